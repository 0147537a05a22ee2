package rediskey

import (
	"fmt"
	"strings"
)

const (
	Namespace      = "rewardcore"
	SequencePrefix = "seq"
	ThrottlePrefix = "throttle"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildSequenceKey returns "rewardcore:seq:{prefix}:{day}"
func BuildSequenceKey(prefix, day string) string {
	return NamespaceKey(Namespace, strings.Join([]string{SequencePrefix, prefix, day}, ":"))
}

// BuildThrottleKey returns "rewardcore:throttle:{route}:{client}"
func BuildThrottleKey(route, client string) string {
	return NamespaceKey(Namespace, strings.Join([]string{ThrottlePrefix, route, client}, ":"))
}
