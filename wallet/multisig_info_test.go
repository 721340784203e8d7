package wallet

import (
	"strings"
	"testing"

	"github.com/cpacia/xmr-escrow/errors"
)

func TestMultisigInfoValidate(t *testing.T) {
	body := strings.Repeat("a1B2", 30)
	tests := []struct {
		info  MultisigInfo
		valid bool
	}{
		{MultisigInfo("MultisigV1" + body), true},
		{MultisigInfo("MultisigxV1" + body), true},
		{MultisigInfo("MultisigxV2" + body), true},
		{MultisigInfo("MultisigV2" + body), false},
		{MultisigInfo("multisigV1" + body), false},
		{MultisigInfo("MultisigV1" + body[:50]), false},
		{MultisigInfo("MultisigV1" + strings.Repeat("a", MaxMultisigInfoLen)), false},
		{MultisigInfo("MultisigV1" + body + "-"), false},
		{MultisigInfo("MultisigV1" + body + " "), false},
		{MultisigInfo("MultisigV1" + body + "é"), false},
		{"", false},
	}
	for i, test := range tests {
		err := test.info.Validate()
		if test.valid && err != nil {
			t.Errorf("test %d: unexpected error %s", i, err)
		}
		if !test.valid && !errors.Is(err, errors.ErrValidation) {
			t.Errorf("test %d: expected validation error, got %v", i, err)
		}
	}
}

func TestValidateMultisigInfos(t *testing.T) {
	a := mockInfo("MultisigV1", "a")
	b := mockInfo("MultisigV1", "b")

	if err := ValidateMultisigInfos([]MultisigInfo{a, b}, 2); err != nil {
		t.Errorf("unexpected error %s", err)
	}
	if err := ValidateMultisigInfos([]MultisigInfo{a}, 2); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("expected validation error for short set, got %v", err)
	}
	if err := ValidateMultisigInfos([]MultisigInfo{a, a}, 2); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("expected validation error for duplicates, got %v", err)
	}
}

func TestMultisigInfoString(t *testing.T) {
	info := mockInfo("MultisigV1", "a")
	s := info.String()
	if len(s) >= len(info) || !strings.HasPrefix(s, "MultisigV1") {
		t.Errorf("unexpected truncation %q", s)
	}
}

func TestValidateAddress(t *testing.T) {
	addr := mockAddress("4", "x")
	if err := ValidateAddress(addr); err != nil {
		t.Errorf("unexpected error %s", err)
	}
	integrated := addr + mockAddress("4", "y")[:11]
	if err := ValidateAddress(integrated); err != nil {
		t.Errorf("unexpected error for integrated address %s", err)
	}
	bad := []string{
		"",
		addr[:94],
		addr[:94] + "0",
		addr[:94] + "O",
		addr[:94] + "l",
		addr + "1",
	}
	for _, a := range bad {
		if err := ValidateAddress(a); !errors.Is(err, errors.ErrValidation) {
			t.Errorf("%q: expected validation error, got %v", a, err)
		}
	}
}
