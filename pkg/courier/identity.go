// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package courier

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/dtn7/cboring"
	"github.com/google/uuid"
)

// Identity of a courier process. The Id is immutable and stable for the process' lifetime, while the declared
// properties might change, e.g., when a transport publishes the port it listens on.
type Identity struct {
	Id uuid.UUID

	properties map[string]string
	mutex      sync.RWMutex
}

// NewIdentity for a given id without any properties.
func NewIdentity(id uuid.UUID) *Identity {
	return &Identity{
		Id:         id,
		properties: make(map[string]string),
	}
}

// NewRandomIdentity creates an Identity based on a fresh random UUID.
func NewRandomIdentity() *Identity {
	return NewIdentity(uuid.New())
}

// Property returns a declared property, if present.
func (identity *Identity) Property(key string) (value string, ok bool) {
	identity.mutex.RLock()
	defer identity.mutex.RUnlock()

	value, ok = identity.properties[key]
	return
}

// SetProperty declares or updates a property.
func (identity *Identity) SetProperty(key, value string) {
	identity.mutex.Lock()
	defer identity.mutex.Unlock()

	if identity.properties == nil {
		identity.properties = make(map[string]string)
	}
	identity.properties[key] = value
}

// Properties returns a copy of all declared properties.
func (identity *Identity) Properties() map[string]string {
	identity.mutex.RLock()
	defer identity.mutex.RUnlock()

	props := make(map[string]string, len(identity.properties))
	for k, v := range identity.properties {
		props[k] = v
	}
	return props
}

// Clone creates an independent copy of this Identity.
func (identity *Identity) Clone() *Identity {
	clone := NewIdentity(identity.Id)
	clone.properties = identity.Properties()
	return clone
}

// MarshalCbor writes the Identity as a CBOR array of its id and a map of its properties. The properties are sorted
// by their keys to produce a deterministic representation.
func (identity *Identity) MarshalCbor(w io.Writer) error {
	props := identity.Properties()

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if err := WriteUUID(identity.Id, w); err != nil {
		return err
	}

	if err := cboring.WriteMapPairLength(uint64(len(keys)), w); err != nil {
		return err
	}
	for _, k := range keys {
		if err := cboring.WriteTextString(k, w); err != nil {
			return err
		}
		if err := cboring.WriteTextString(props[k], w); err != nil {
			return err
		}
	}

	return nil
}

// UnmarshalCbor reads an Identity from its CBOR representation.
func (identity *Identity) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("wrong array length: %d instead of 2", l)
	}

	if id, err := ReadUUID(r); err != nil {
		return fmt.Errorf("unmarshalling identity id failed: %w", err)
	} else {
		identity.Id = id
	}

	n, err := cboring.ReadMapPairLength(r)
	if err != nil {
		return err
	}

	props := make(map[string]string, n)
	for i := uint64(0); i < n; i++ {
		k, kErr := cboring.ReadTextString(r)
		if kErr != nil {
			return kErr
		}
		v, vErr := cboring.ReadTextString(r)
		if vErr != nil {
			return vErr
		}
		props[k] = v
	}

	identity.mutex.Lock()
	identity.properties = props
	identity.mutex.Unlock()

	return nil
}

func (identity *Identity) String() string {
	return fmt.Sprintf("Identity(%v)", identity.Id)
}

// WriteUUID writes an UUID as a 16 byte long CBOR byte string.
func WriteUUID(id uuid.UUID, w io.Writer) error {
	return cboring.WriteByteString(id[:], w)
}

// ReadUUID reads an UUID from a CBOR byte string, written by WriteUUID.
func ReadUUID(r io.Reader) (id uuid.UUID, err error) {
	data, err := cboring.ReadByteString(r)
	if err != nil {
		return
	}

	id, err = uuid.FromBytes(data)
	return
}
