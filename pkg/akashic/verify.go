package akashic

import (
	"context"
	"fmt"

	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

// VerifyResult reports the outcome of a chain verification walk.
type VerifyResult struct {
	OK          bool   `json:"ok"`
	Checked     int    `json:"checked"`
	OffendingID string `json:"offending_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// VerifyChain walks a stream and checks, for each event, that prev_hash
// equals the predecessor's hash (absent at the head) and that the stored
// hash matches a fresh derivation over the canonical form. It stops at
// the first offending event.
func VerifyChain(ctx context.Context, s *Store, key string) (*VerifyResult, error) {
	result := &VerifyResult{OK: true}
	prevHash := ""

	err := s.Replay(ctx, key, ReplayFilter{}, func(e *event.Event) error {
		if result.Checked == 0 {
			if e.PrevHash != "" {
				return fail(result, e.ID, fmt.Sprintf("stream head has prev_hash %s, expected none", e.PrevHash))
			}
		} else if e.PrevHash != prevHash {
			return fail(result, e.ID, fmt.Sprintf("prev_hash %s does not match predecessor hash %s", e.PrevHash, prevHash))
		}

		derived, err := e.ComputeHash()
		if err != nil {
			return fail(result, e.ID, fmt.Sprintf("hash derivation failed: %v", err))
		}
		if derived != e.Hash {
			return fail(result, e.ID, fmt.Sprintf("stored hash %s does not match derived %s", e.Hash, derived))
		}

		prevHash = e.Hash
		result.Checked++
		return nil
	})

	if err != nil && result.OK {
		return nil, err
	}
	return result, nil
}

// errVerifyStop halts the replay once a violation is recorded.
var errVerifyStop = fmt.Errorf("%w: verification stopped", ErrChainBroken)

func fail(r *VerifyResult, id, reason string) error {
	r.OK = false
	r.OffendingID = id
	r.Reason = reason
	return errVerifyStop
}
