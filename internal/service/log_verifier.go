package service

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/moneyfestation-dev/manifest-wall/internal/crypto"
	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
)

type LogVerification struct {
	Status string                 `json:"status"`
	Checks []protocol.VerifyCheck `json:"checks"`
}

func (v LogVerification) Passed() bool {
	return v.Status == "ok"
}

// EventLogVerifier audits a downloaded event log against a signed head.
type EventLogVerifier struct {
	// NodeKey, when set, must have produced the head signature.
	NodeKey ed25519.PublicKey
}

// Verify checks the hash chain of entries, each entry's event record, the
// Merkle root over the first head.TreeSize entries and the head signature.
// entries must start at seq 1 and may extend past the head.
func (v *EventLogVerifier) Verify(head protocol.EventHead, entries []protocol.EventEntry) LogVerification {
	checks := make([]protocol.VerifyCheck, 0, 6)

	chainOK := true
	chainDetail := fmt.Sprintf("count=%d", len(entries))
	previous := ""
	for i, e := range entries {
		want := int64(i + 1)
		if e.Seq != want {
			chainOK, chainDetail = false, fmt.Sprintf("seq %d found at position %d", e.Seq, want)
			break
		}
		if e.PreviousHash != previous {
			chainOK, chainDetail = false, fmt.Sprintf("seq %d previous_hash does not match seq %d", e.Seq, e.Seq-1)
			break
		}
		hash, err := protocol.ComputeEventEntryHash(e, previous)
		if err != nil || hash != e.EntryHash {
			chainOK, chainDetail = false, fmt.Sprintf("seq %d entry_hash mismatch", e.Seq)
			break
		}
		previous = e.EntryHash
	}
	checks = append(checks, check("hash_chain", chainOK, chainDetail))

	recordsOK := true
	recordsDetail := fmt.Sprintf("count=%d", len(entries))
	for _, e := range entries {
		ev, err := protocol.DecodeEvent(e.Data)
		if err != nil {
			recordsOK, recordsDetail = false, fmt.Sprintf("seq %d: %v", e.Seq, err)
			break
		}
		if ev.EventName() != e.EventType {
			recordsOK, recordsDetail = false, fmt.Sprintf("seq %d event_type %q does not match record %q", e.Seq, e.EventType, ev.EventName())
			break
		}
		payload, err := protocol.EventPayloadJSON(ev)
		if err != nil || !sameJSON(payload, e.Payload) {
			recordsOK, recordsDetail = false, fmt.Sprintf("seq %d payload does not match record", e.Seq)
			break
		}
	}
	checks = append(checks, check("event_records", recordsOK, recordsDetail))

	if head.TreeSize > len(entries) || head.TreeSize < 0 {
		checks = append(checks, check("tree_size", false, fmt.Sprintf("head covers %d entries, have %d", head.TreeSize, len(entries))))
	} else {
		checks = append(checks, check("tree_size", true, fmt.Sprintf("tree_size=%d", head.TreeSize)))
		covered := make([]string, head.TreeSize)
		for i := range covered {
			covered[i] = entries[i].EntryHash
		}
		if root := protocol.NewEventTree(covered).Root(); root != head.RootHash {
			checks = append(checks, check("merkle_root", false, "root mismatch with head"))
		} else {
			checks = append(checks, check("merkle_root", true, root))
		}
		latest := ""
		if head.TreeSize > 0 {
			latest = covered[head.TreeSize-1]
		}
		checks = append(checks, check("latest_hash", latest == head.LatestHash, head.LatestHash))
	}

	checks = v.appendHeadChecks(checks, "head", head)
	return verification(checks)
}

// VerifyProof checks that p.EntryHash is the entry recorded at p.Seq and that
// the proof leads to the root of the signed head served with it. When
// entries is non-empty the entry hash must also match the downloaded log.
func (v *EventLogVerifier) VerifyProof(p protocol.EventProof, entries []protocol.EventEntry) LogVerification {
	checks := make([]protocol.VerifyCheck, 0, 4)

	if len(entries) > 0 {
		idx := p.Seq - 1
		if idx < 0 || idx >= int64(len(entries)) {
			checks = append(checks, check("proof_entry", false, fmt.Sprintf("seq %d not in downloaded log", p.Seq)))
		} else {
			checks = append(checks, check("proof_entry", entries[idx].EntryHash == p.EntryHash, fmt.Sprintf("seq=%d", p.Seq)))
		}
	}

	switch {
	case int64(p.Proof.LeafIndex) != p.Seq-1:
		checks = append(checks, check("inclusion", false, fmt.Sprintf("leaf index %d does not match seq %d", p.Proof.LeafIndex, p.Seq)))
	case p.Proof.TreeSize != p.Head.TreeSize || p.Proof.RootHash != p.Head.RootHash:
		checks = append(checks, check("inclusion", false, "proof is not anchored to its head"))
	default:
		if err := p.Proof.Verify(p.EntryHash); err != nil {
			checks = append(checks, check("inclusion", false, err.Error()))
		} else {
			checks = append(checks, check("inclusion", true, fmt.Sprintf("seq=%d tree_size=%d", p.Seq, p.Proof.TreeSize)))
		}
	}

	checks = v.appendHeadChecks(checks, "proof_head", p.Head)
	return verification(checks)
}

func (v *EventLogVerifier) appendHeadChecks(checks []protocol.VerifyCheck, prefix string, head protocol.EventHead) []protocol.VerifyCheck {
	if v.NodeKey == nil {
		return checks
	}
	if crypto.KeyID(v.NodeKey) != head.KeyID {
		return append(checks, check(prefix+"_key_id", false, "head kid does not match node key"))
	}
	payload, err := protocol.EventHeadSignaturePayload(head)
	if err != nil {
		return append(checks, check(prefix+"_signature", false, "cannot build head signature payload"))
	}
	return append(checks, check(prefix+"_signature", crypto.Verify(v.NodeKey, payload, head.Signature), head.KeyID))
}

func verification(checks []protocol.VerifyCheck) LogVerification {
	status := "ok"
	for _, c := range checks {
		if c.Status != "ok" {
			status = "fail"
			break
		}
	}
	return LogVerification{Status: status, Checks: checks}
}

func check(name string, ok bool, details string) protocol.VerifyCheck {
	if ok {
		return protocol.VerifyCheck{Name: name, Status: "ok", Details: details}
	}
	return protocol.VerifyCheck{Name: name, Status: "fail", Details: details}
}

// sameJSON compares documents structurally; stores may reorder object keys.
func sameJSON(a, b []byte) bool {
	var va, vb any
	if decodeNumbers(a, &va) != nil || decodeNumbers(b, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func decodeNumbers(raw []byte, out *any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}
