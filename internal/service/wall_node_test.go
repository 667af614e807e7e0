package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moneyfestation-dev/manifest-wall/internal/crypto"
	"github.com/moneyfestation-dev/manifest-wall/internal/host"
	"github.com/moneyfestation-dev/manifest-wall/internal/protocol"
)

type testWallet struct {
	pub  protocol.Pubkey
	priv ed25519.PrivateKey
}

func newTestWallet(t *testing.T) testWallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return testWallet{pub: protocol.PubkeyFromPublicKey(pub), priv: priv}
}

func newTestNode(t *testing.T) *WallNode {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	node, err := NewWallNode(WallNodeParams{
		Runtime:       host.New(newRelayStore(t), host.Options{TxFeeLamports: 5_000}),
		Signer:        crypto.NewSigner(priv),
		AdminToken:    "secret-token",
		EnableAirdrop: true,
	})
	require.NoError(t, err)
	return node
}

func encodeTx(t *testing.T, signer testWallet, nonce uint64, ixs ...protocol.Instruction) protocol.SubmitTransactionRequest {
	t.Helper()
	tx, err := protocol.NewTransaction(protocol.Message{Signers: []protocol.Pubkey{signer.pub}, Nonce: nonce, Instructions: ixs}, signer.priv)
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return protocol.SubmitTransactionRequest{Transaction: base64.StdEncoding.EncodeToString(raw)}
}

func TestVerifyAdminToken(t *testing.T) {
	svc := &WallNode{adminToken: "secret-token"}
	require.True(t, svc.VerifyAdminToken("secret-token"))
	require.True(t, svc.VerifyAdminToken("  secret-token "))
	require.False(t, svc.VerifyAdminToken("wrong-token"))
	require.False(t, svc.VerifyAdminToken(""))
}

func TestNewWallNodeRequiresAdminTokenForAirdrop(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	_, err := NewWallNode(WallNodeParams{
		Runtime:       host.New(newRelayStore(t), host.Options{}),
		Signer:        crypto.NewSigner(priv),
		EnableAirdrop: true,
	})
	require.Error(t, err)
}

func TestSubmitPostFlow(t *testing.T) {
	ctx := context.Background()
	node := newTestNode(t)
	owner, poster := newTestWallet(t), newTestWallet(t)
	for _, w := range []testWallet{owner, poster} {
		_, err := node.Airdrop(ctx, w.pub, protocol.AirdropRequest{Lamports: 1_000_000_000})
		require.NoError(t, err)
	}

	initIx, err := protocol.NewInitializeWallInstruction(owner.pub, 7)
	require.NoError(t, err)
	receipt, err := node.SubmitTransaction(ctx, encodeTx(t, owner, 1, initIx))
	require.NoError(t, err)
	require.True(t, receipt.Succeeded())

	wall, err := node.GetWall(ctx, owner.pub, 7)
	require.NoError(t, err)
	require.Equal(t, owner.pub, wall.Wall.Owner)

	postIx := protocol.NewPostMessageInstruction(wall.Address, poster.pub, owner.pub, "hello")
	receipt, err = node.SubmitTransaction(ctx, encodeTx(t, poster, 1, postIx))
	require.NoError(t, err)

	stored, err := node.GetReceipt(ctx, receipt.Signature)
	require.NoError(t, err)
	require.Equal(t, receipt.EventSeqs, stored.EventSeqs)

	page, err := node.ListEvents(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.Equal(t, int64(2), page.Next)
	var posted protocol.MessagePosted
	require.NoError(t, json.Unmarshal(page.Events[1].Payload, &posted))
	require.Equal(t, uint64(7), posted.WallID)
	require.Equal(t, poster.pub, posted.User)
	require.Equal(t, "hello", posted.Message)
}

func TestSubmitMapsProgramFailureTo422(t *testing.T) {
	ctx := context.Background()
	node := newTestNode(t)
	owner, poster := newTestWallet(t), newTestWallet(t)
	for _, w := range []testWallet{owner, poster} {
		_, err := node.Airdrop(ctx, w.pub, protocol.AirdropRequest{Lamports: 1_000_000_000})
		require.NoError(t, err)
	}
	initIx, err := protocol.NewInitializeWallInstruction(owner.pub, 7)
	require.NoError(t, err)
	_, err = node.SubmitTransaction(ctx, encodeTx(t, owner, 1, initIx))
	require.NoError(t, err)

	postIx := protocol.NewPostMessageInstruction(initIx.Accounts[0].Pubkey, poster.pub, owner.pub, "")
	receipt, err := node.SubmitTransaction(ctx, encodeTx(t, poster, 1, postIx))
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	require.Equal(t, uint32(6000), appErr.ProgramCode)
	require.Equal(t, protocol.ReceiptStatusFailed, receipt.Status)

	_, err = node.SubmitTransaction(ctx, encodeTx(t, poster, 1, postIx))
	require.True(t, IsCode(err, "ALREADY_PROCESSED"))
}

func TestSubmitRejectsGarbage(t *testing.T) {
	node := newTestNode(t)
	_, err := node.SubmitTransaction(context.Background(), protocol.SubmitTransactionRequest{Transaction: "***"})
	require.True(t, IsCode(err, "BAD_REQUEST"))
	_, err = node.SubmitTransaction(context.Background(), protocol.SubmitTransactionRequest{Transaction: base64.StdEncoding.EncodeToString([]byte{1, 2})})
	require.True(t, IsCode(err, "BAD_REQUEST"))
}

func TestEventHeadAndProofVerify(t *testing.T) {
	ctx := context.Background()
	node := newTestNode(t)
	owner := newTestWallet(t)
	_, err := node.Airdrop(ctx, owner.pub, protocol.AirdropRequest{Lamports: 1_000_000_000})
	require.NoError(t, err)
	for id := uint64(1); id <= 3; id++ {
		ix, err := protocol.NewInitializeWallInstruction(owner.pub, id)
		require.NoError(t, err)
		_, err = node.SubmitTransaction(ctx, encodeTx(t, owner, id, ix))
		require.NoError(t, err)
	}

	head, err := node.EventHead(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, head.TreeSize)
	payload, err := protocol.EventHeadSignaturePayload(head)
	require.NoError(t, err)
	require.True(t, crypto.Verify(node.signer.Public, payload, head.Signature))

	proof, err := node.EventProof(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 1, proof.Proof.LeafIndex)
	require.NoError(t, proof.Proof.Verify(proof.EntryHash))
	require.Equal(t, proof.Head.RootHash, proof.Proof.RootHash)

	_, err = node.EventProof(ctx, 4)
	require.True(t, IsCode(err, "NOT_FOUND"))
}

func TestGetWallNotFound(t *testing.T) {
	node := newTestNode(t)
	_, err := node.GetWall(context.Background(), protocol.Pubkey{1}, 1)
	require.True(t, IsCode(err, "NOT_FOUND"))
}

func TestAirdropDisabled(t *testing.T) {
	node := newTestNode(t)
	node.enableAirdrop = false
	_, err := node.Airdrop(context.Background(), protocol.Pubkey{1}, protocol.AirdropRequest{Lamports: 1})
	require.True(t, IsCode(err, "AIRDROP_DISABLED"))
}
