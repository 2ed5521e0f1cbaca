// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"strings"
	"unicode/utf8"
)

// maxTopicLen is the MQTT limit for a UTF-8 encoded string.
const maxTopicLen = 65535

// ValidateTopic checks that topic can be both subscribed to and published
// on: no wildcards, valid UTF-8, no null character.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if len(topic) > maxTopicLen {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return ErrInvalidTopic
	}
	if !utf8.ValidString(topic) {
		return ErrInvalidTopic
	}
	if strings.Contains(topic, "\u0000") {
		return ErrInvalidTopic
	}
	return nil
}
