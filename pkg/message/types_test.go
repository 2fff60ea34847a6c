// SPDX-FileCopyrightText: 2024 The peernet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package message

import (
	"errors"
	"testing"
)

func TestTypeFor(t *testing.T) {
	for _, dm := range DeliveryMethods {
		for ch := 0; ch < dm.SequenceChannels(); ch++ {
			typ, err := TypeFor(dm, ch)
			if err != nil {
				t.Fatal(err)
			}

			if !typ.IsUser() || typ.IsLibrary() {
				t.Fatalf("%v is no user type", typ)
			}
			if typ.DeliveryMethod() != dm || typ.SequenceChannel() != ch {
				t.Fatalf("%v maps back to %v#%d", typ, typ.DeliveryMethod(), typ.SequenceChannel())
			}
		}

		if _, err := TypeFor(dm, dm.SequenceChannels()); !errors.Is(err, ErrInvalidSequenceChannel) {
			t.Fatalf("%v accepted channel %d", dm, dm.SequenceChannels())
		}
	}

	if _, err := TypeFor(Unknown, 0); err == nil {
		t.Fatalf("unknown delivery method accepted")
	}
}

func TestTypeClasses(t *testing.T) {
	if Unconnected.IsUser() || Unconnected.IsLibrary() {
		t.Fatalf("unconnected is classified")
	}
	for typ := LibraryError; typ <= ExpandMTUSuccess; typ++ {
		if !typ.IsLibrary() || typ.DeliveryMethod() != Unknown {
			t.Fatalf("%v is misclassified", typ)
		}
	}
	if Type(99).IsUser() {
		t.Fatalf("type 99 is a user type")
	}
}

func TestParseDeliveryMethod(t *testing.T) {
	for _, dm := range DeliveryMethods {
		if parsed, err := ParseDeliveryMethod(dm.String()); err != nil || parsed != dm {
			t.Fatalf("parsing %v: %v, %v", dm, parsed, err)
		}
	}
	if _, err := ParseDeliveryMethod("carrier-pigeon"); err == nil {
		t.Fatalf("unknown method parsed")
	}
}
