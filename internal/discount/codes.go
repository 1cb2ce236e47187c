package discount

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/store"
)

// Sub-codes avoid visually ambiguous characters so they survive being
// read aloud or printed.
const subCodeAlphabet = "abcdefghkmnpqrstuvwxyz23456789"

const (
	subCodeLength  = 8
	maxCodeRetries = 5
)

// GenerateSubCode lazily extends the sub-code pool of an individual
// condition by one single-use code. The pool grows until the
// configured amount is reached; code collisions are retried a bounded
// number of times before giving up.
func (s *Service) GenerateSubCode(ctx context.Context, parentKey common.Key) (*Condition, error) {
	parent, err := s.GetCondition(ctx, parentKey)
	if err != nil {
		return nil, err
	}
	if parent.CodeType != CodeIndividual {
		return nil, common.InvalidStatef("condition %s does not use individual codes", parentKey)
	}
	if parent.IsSubcode {
		return nil, common.InvalidState("cannot generate sub-codes of a sub-code")
	}

	existing, err := s.store.Count(ctx, store.Query{
		Kind: KindCondition,
		Eq:   map[string]any{"parent_code": parentKey.String()},
	})
	if err != nil {
		return nil, err
	}
	if parent.IndividualCodesAmount > 0 && existing >= parent.IndividualCodesAmount {
		return nil, common.InvalidStatef("sub-code pool of condition %s is exhausted", parentKey)
	}

	for attempt := 0; attempt < maxCodeRetries; attempt++ {
		code, err := randomSubCode(parent.IndividualCodesPrefix)
		if err != nil {
			return nil, err
		}
		sub := &Condition{
			Key:            common.NewKey(KindCondition),
			Name:           parent.Name,
			CodeType:       CodeIndividual,
			ScopeCode:      code,
			QuantityVolume: 1,
			IsSubcode:      true,
			ParentCode:     &parentKey,
		}
		err = store.PutAs(ctx, s.store, &store.Entity{Key: sub.Key}, sub)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	return nil, common.InvalidStatef("could not allocate a unique sub-code for %s", parentKey)
}

// FindSubCode implements SubCodeFinder against the store. A nil
// condition with nil error means the code does not belong to the pool.
func (s *Service) FindSubCode(ctx context.Context, parent common.Key, code string) (*Condition, error) {
	ents, err := s.store.Query(ctx, store.Query{
		Kind: KindCondition,
		Eq: map[string]any{
			"parent_code": parent.String(),
			"code":        code,
		},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(ents) == 0 {
		return nil, nil
	}
	var sub Condition
	if err := ents[0].Decode(&sub); err != nil {
		return nil, err
	}
	sub.Key = ents[0].Key
	return &sub, nil
}

func randomSubCode(prefix string) (string, error) {
	var sb strings.Builder
	sb.WriteString(prefix)
	alphabetLen := big.NewInt(int64(len(subCodeAlphabet)))
	for i := 0; i < subCodeLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		sb.WriteByte(subCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
