package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moneyfestation-dev/manifest-wall/internal/crypto"
	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
	"github.com/moneyfestation-dev/manifest-wall/internal/service"
)

type AuditSummary struct {
	GeneratedAtUTC     string                 `json:"generated_at_utc"`
	NodeURL            string                 `json:"node_url"`
	NodeKeyID          string                 `json:"node_kid"`
	EventCount         int                    `json:"event_count"`
	HeadTreeSize       int                    `json:"head_tree_size"`
	HeadRootHash       string                 `json:"head_root_hash"`
	HeadLatestHash     string                 `json:"head_latest_hash"`
	ProofSeq           int64                  `json:"proof_seq,omitempty"`
	WallsInitialized   int                    `json:"walls_initialized"`
	MessagesPosted     int                    `json:"messages_posted"`
	Checks             []protocol.VerifyCheck `json:"checks"`
	VerificationPassed bool                   `json:"verification_passed"`
}

type SignedAuditReport struct {
	Summary        AuditSummary `json:"summary"`
	AuditSignature *struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
		Sig string `json:"sig"`
	} `json:"audit_signature,omitempty"`
}

func main() {
	nodeURL := flag.String("node-url", "http://127.0.0.1:8899", "wall node base URL")
	nodePublicKey := flag.String("node-public-key", "", "node signing public key file or inline key (required)")
	pageSize := flag.Int("page-size", 500, "events fetched per request")
	proofSeq := flag.Int64("seq", 0, "event whose inclusion proof is checked (default: last event covered by the head)")
	auditPrivateKey := flag.String("audit-private-key", "", "audit signing private key path (optional)")
	outPath := flag.String("out", "", "output path for the audit report json (default stdout)")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall fetch timeout")
	flag.Parse()

	if strings.TrimSpace(*nodePublicKey) == "" {
		fmt.Fprintln(os.Stderr, "-node-public-key is required")
		os.Exit(2)
	}
	nodeKey, err := resolvePublicKey(*nodePublicKey)
	if err != nil {
		fail("load node public key", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	base := strings.TrimRight(*nodeURL, "/")

	// The head is fetched first so every entry it covers is already committed
	// when the log is paged.
	var head protocol.EventHead
	if err := fetchJSON(ctx, base+"/v1/events/head", &head); err != nil {
		fail("fetch event head", err)
	}
	entries, err := fetchEvents(ctx, base, *pageSize)
	if err != nil {
		fail("fetch events", err)
	}

	verifier := &service.EventLogVerifier{NodeKey: nodeKey}
	result := verifier.Verify(head, entries)

	seq := *proofSeq
	if seq == 0 {
		seq = int64(head.TreeSize)
	}
	var proofSeqChecked int64
	if seq > 0 {
		var proof protocol.EventProof
		if err := fetchJSON(ctx, fmt.Sprintf("%s/v1/events/%d/proof", base, seq), &proof); err != nil {
			fail("fetch inclusion proof", err)
		}
		proofResult := verifier.VerifyProof(proof, entries)
		result.Checks = append(result.Checks, proofResult.Checks...)
		if !proofResult.Passed() {
			result.Status = proofResult.Status
		}
		proofSeqChecked = seq
	}

	summary := AuditSummary{
		GeneratedAtUTC:     time.Now().UTC().Format(time.RFC3339),
		NodeURL:            base,
		NodeKeyID:          crypto.KeyID(nodeKey),
		EventCount:         len(entries),
		HeadTreeSize:       head.TreeSize,
		HeadRootHash:       head.RootHash,
		HeadLatestHash:     head.LatestHash,
		ProofSeq:           proofSeqChecked,
		Checks:             result.Checks,
		VerificationPassed: result.Passed(),
	}
	for _, e := range entries {
		switch e.EventType {
		case protocol.EventWallInitialized:
			summary.WallsInitialized++
		case protocol.EventMessagePosted:
			summary.MessagesPosted++
		}
	}

	report := SignedAuditReport{Summary: summary}
	if *auditPrivateKey != "" {
		signer, err := crypto.LoadSigner(*auditPrivateKey, "")
		if err != nil {
			fail("load audit signer", err)
		}
		payload, err := protocol.CanonicalJSON(summary)
		if err != nil {
			fail("canonicalize audit summary", err)
		}
		report.AuditSignature = &struct {
			Alg string `json:"alg"`
			Kid string `json:"kid"`
			Sig string `json:"sig"`
		}{Alg: "ed25519", Kid: signer.KeyID, Sig: signer.Sign(payload)}
	}

	if err := writeReport(*outPath, report); err != nil {
		fail("write audit report", err)
	}
	fmt.Fprintf(os.Stderr, "events:%d walls:%d messages:%d\n", summary.EventCount, summary.WallsInitialized, summary.MessagesPosted)
	fmt.Fprintf(os.Stderr, "verification_passed:%t\n", summary.VerificationPassed)
	if !summary.VerificationPassed {
		os.Exit(1)
	}
}

func fetchEvents(ctx context.Context, base string, pageSize int) ([]protocol.EventEntry, error) {
	var (
		out   []protocol.EventEntry
		after int64
	)
	for {
		var page protocol.EventsPage
		url := fmt.Sprintf("%s/v1/events?after=%d&limit=%d", base, after, pageSize)
		if err := fetchJSON(ctx, url, &page); err != nil {
			return nil, err
		}
		if len(page.Events) == 0 {
			return out, nil
		}
		out = append(out, page.Events...)
		if page.Next <= after {
			return nil, fmt.Errorf("event cursor did not advance past %d", after)
		}
		after = page.Next
	}
}

func resolvePublicKey(raw string) (ed25519.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if buf, err := os.ReadFile(raw); err == nil {
		return crypto.ParsePublicKey(string(buf))
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return crypto.ParsePublicKey(raw)
}

func fetchJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 12 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d body=%s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

func writeReport(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	if path == "" {
		_, err = os.Stdout.Write(raw)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
