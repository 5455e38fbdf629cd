package storage

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/cuemby/relay/pkg/relayerr"
)

// PutMessage encodes msg deterministically and stores it at key.
func PutMessage(s Store, key string, msg proto.Message) error {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return relayerr.Wrap(relayerr.Storage, fmt.Sprintf("failed to encode value for key %s", key), err)
	}
	return s.Put(key, data)
}

// GetMessage decodes the value at key into msg. A miss is a NotFound error;
// an undecodable value is a Storage error.
func GetMessage(s Store, key string, msg proto.Message) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := proto.Unmarshal(data, msg); err != nil {
		return relayerr.Wrap(relayerr.Storage, fmt.Sprintf("failed to decode value for key %s", key), err)
	}
	return nil
}

// UnsetMessage removes the value at key, decoding the prior value into msg
// when msg is non-nil.
func UnsetMessage(s Store, key string, msg proto.Message) error {
	data, err := s.Unset(key)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}
	if err := proto.Unmarshal(data, msg); err != nil {
		return relayerr.Wrap(relayerr.Storage, fmt.Sprintf("failed to decode prior value for key %s", key), err)
	}
	return nil
}
