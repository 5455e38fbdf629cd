package network

import (
	"fmt"
	"strings"

	common "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/common"
	"google.golang.org/protobuf/proto"
)

// decodeForDump renders a stored value as text for the RequestDatabase
// debug dump. The key prefix and store side select the schema; undecodable
// values are reported in place rather than failing the dump.
func decodeForDump(key string, value []byte, localStore bool) string {
	var msg proto.Message
	switch {
	case strings.HasPrefix(key, "event_sub_"):
		if localStore {
			msg = &common.EventSubscriptionState{}
		} else {
			msg = &common.EventSubscription{}
		}
	case strings.HasPrefix(key, "event_pub_"):
		msg = &common.EventStates{}
	case strings.HasPrefix(key, "satp_"):
		return fmt.Sprintf("session(%d bytes)", len(value))
	default:
		if localStore {
			msg = &common.RequestState{}
		} else {
			msg = &common.Query{}
		}
	}
	if err := proto.Unmarshal(value, msg); err != nil {
		return fmt.Sprintf("undecodable(%d bytes)", len(value))
	}
	return fmt.Sprint(msg)
}
