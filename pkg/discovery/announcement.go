// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/gofrs/uuid"
)

// Announcement of a peer, reachable at the announcing host's address and Port.
type Announcement struct {
	AppIdentifier    string
	UniqueIdentifier uuid.UUID
	Port             uint
}

// UnmarshalAnnouncements creates a new array of Announcement based on a CBOR byte string.
func UnmarshalAnnouncements(data []byte) (announcements []Announcement, err error) {
	buff := bytes.NewBuffer(data)

	l, err := cboring.ReadArrayLength(buff)
	if err != nil {
		return nil, err
	}
	if l > uint64(len(data)) {
		return nil, fmt.Errorf("array of %d announcements exceeds %d bytes", l, len(data))
	}

	announcements = make([]Announcement, l)
	for i := range announcements {
		if err = cboring.Unmarshal(&announcements[i], buff); err != nil {
			return nil, fmt.Errorf("unmarshalling Announcement %d failed: %w", i, err)
		}
	}
	return
}

// MarshalAnnouncements into a CBOR byte string.
func MarshalAnnouncements(announcements []Announcement) ([]byte, error) {
	buff := new(bytes.Buffer)

	if err := cboring.WriteArrayLength(uint64(len(announcements)), buff); err != nil {
		return nil, err
	}

	for i := range announcements {
		if err := cboring.Marshal(&announcements[i], buff); err != nil {
			return nil, fmt.Errorf("marshalling Announcement %d (%v) failed: %w", i, announcements[i], err)
		}
	}

	return buff.Bytes(), nil
}

// MarshalCbor creates a CBOR representation for an Announcement.
func (announcement *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(announcement.AppIdentifier, w); err != nil {
		return err
	}
	if err := cboring.WriteByteString(announcement.UniqueIdentifier.Bytes(), w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(announcement.Port), w)
}

// UnmarshalCbor creates an Announcement from its CBOR representation.
func (announcement *Announcement) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 3 {
		return fmt.Errorf("wrong array length: %d instead of 3", l)
	}

	appIdentifier, err := cboring.ReadTextString(r)
	if err != nil {
		return err
	}
	announcement.AppIdentifier = appIdentifier

	id, err := cboring.ReadByteString(r)
	if err != nil {
		return err
	}
	if announcement.UniqueIdentifier, err = uuid.FromBytes(id); err != nil {
		return fmt.Errorf("unmarshalling unique identifier failed: %w", err)
	}

	n, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	} else if n == 0 || n > 65535 {
		return fmt.Errorf("port %d is out of range", n)
	}
	announcement.Port = uint(n)

	return nil
}

func (announcement Announcement) String() string {
	return fmt.Sprintf("Announcement(%s,%v,%d)",
		announcement.AppIdentifier, announcement.UniqueIdentifier, announcement.Port)
}
