package orderbook

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Identity is an account owner as supplied by the host.
// The core only ever compares identities for equality.
type Identity string

// CustodyIdentity owns the pooled accounts that hold collateral of live orders.
const CustodyIdentity Identity = "$custody"

// MaxIdentityLen bounds identities in bytes so they fit persisted records.
const MaxIdentityLen = 256

// CheckIdentity rejects empty, oversized and reserved identities.
func CheckIdentity(id Identity) error {
	switch {
	case id == "" || id == CustodyIdentity:
		return errors.Wrapf(ErrInvalidIdentity, "%q", id)
	case len(id) > MaxIdentityLen:
		return errors.Wrapf(ErrInvalidIdentity, "identity of %d bytes exceeds %d", len(id), MaxIdentityLen)
	}
	return nil
}

type Asset uint8

const (
	Base Asset = iota
	Quote
)

func (a Asset) String() string {
	switch a {
	case Base:
		return "base"
	case Quote:
		return "quote"
	default:
		return "unknown"
	}
}

func ParseAsset(s string) (Asset, error) {
	switch s {
	case "base", "BASE":
		return Base, nil
	case "quote", "QUOTE":
		return Quote, nil
	}
	return 0, errors.Errorf("unknown asset %q", s)
}

// Account is one balance: an owner holding one asset.
type Account struct {
	Owner Identity
	Asset Asset
}

func (a Account) String() string {
	return fmt.Sprintf("%s/%s", a.Owner, a.Asset)
}

// CustodyAccount is the book's escrow account for asset.
func CustodyAccount(asset Asset) Account {
	return Account{Owner: CustodyIdentity, Asset: asset}
}

// Transfer is one leg moving Amount units between two accounts of the same asset.
type Transfer struct {
	From   Account
	To     Account
	Amount uint64
}

// Escrow is the token-transfer collaborator.
//
// Transfer applies every leg or none of them. A failed call must leave all
// balances exactly as they were.
type Escrow interface {
	Transfer(ctx context.Context, legs ...Transfer) error
}
