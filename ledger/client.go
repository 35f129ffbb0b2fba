// Copyright 2025 Wyrd Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrAccountNotFound is returned when a channel state account does not
// exist on the ledger yet
var ErrAccountNotFound = errors.New("account not found")

// ErrNoEndpoints is returned when the client is constructed without any
// RPC endpoints
var ErrNoEndpoints = errors.New("no rpc endpoints configured")

const (
	confirmPollInterval = 2 * time.Second
	confirmTimeout      = 90 * time.Second
)

// Client talks to the ring-buffer ledger program over one or more RPC
// endpoints. Reads and writes rotate to the next endpoint when one
// fails; the rotation order is fixed, so a healthy primary always gets
// tried first.
type Client struct {
	logger    *slog.Logger
	clients   []*rpc.Client
	endpoints []string
	programID solana.PublicKey
	mint      solana.PublicKey
	signer    solana.PrivateKey
	namespace string
}

// ClientConfig describes how to construct a Client
type ClientConfig struct {
	Logger    *slog.Logger
	Endpoints []string
	ProgramID solana.PublicKey
	Mint      solana.PublicKey
	Signer    solana.PrivateKey
	Namespace string
}

// NewClient creates a ledger client. Signer may be empty for read-only
// use (reconciliation).
func NewClient(cfg ClientConfig) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	c := &Client{
		logger:    logger,
		endpoints: cfg.Endpoints,
		programID: cfg.ProgramID,
		mint:      cfg.Mint,
		signer:    cfg.Signer,
		namespace: cfg.Namespace,
	}
	for _, endpoint := range cfg.Endpoints {
		c.clients = append(c.clients, rpc.New(endpoint))
	}
	return c, nil
}

// CanPublish reports whether the client holds a signing key
func (c *Client) CanPublish() bool {
	return len(c.signer) > 0
}

// withFailover runs fn against each endpoint in order until one
// succeeds. Not-found responses are treated as success: absence is an
// answer, not an endpoint failure.
func withFailover[T any](
	c *Client,
	fn func(client *rpc.Client) (T, error),
) (T, error) {
	var lastErr error
	var zero T
	for i, client := range c.clients {
		ret, err := fn(client)
		if err == nil || errors.Is(err, ErrAccountNotFound) {
			return ret, err
		}
		c.logger.Warn(
			"ledger rpc call failed, rotating endpoint",
			"component", "ledger",
			"endpoint", c.endpoints[i],
			"error", err,
		)
		lastErr = err
	}
	return zero, fmt.Errorf("all ledger endpoints failed: %w", lastErr)
}

// GetChannelState fetches and decodes the ring-buffer account for a
// channel. Returns ErrAccountNotFound if no root was ever published.
func (c *Client) GetChannelState(
	ctx context.Context,
	channel string,
) (*ChannelState, error) {
	addr, err := ChannelStateAddress(c.programID, c.mint, c.namespace, channel)
	if err != nil {
		return nil, err
	}
	return withFailover(c, func(client *rpc.Client) (*ChannelState, error) {
		result, err := client.GetAccountInfoWithOpts(
			ctx,
			addr,
			&rpc.GetAccountInfoOpts{
				Commitment: rpc.CommitmentConfirmed,
			},
		)
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				return nil, ErrAccountNotFound
			}
			return nil, err
		}
		if result.Value == nil {
			return nil, ErrAccountNotFound
		}
		return DecodeChannelState(result.Value.Data.GetBinary())
	})
}

// SetRoot publishes a claim-tree root into the channel's ring buffer
// and waits for the transaction to reach confirmed commitment. Returns
// the transaction signature.
func (c *Client) SetRoot(
	ctx context.Context,
	channel string,
	epoch uint64,
	root [32]byte,
) (solana.Signature, error) {
	if !c.CanPublish() {
		return solana.Signature{}, errors.New("ledger client has no signing key")
	}
	protocolState, err := ProtocolStateAddress(c.programID, c.mint)
	if err != nil {
		return solana.Signature{}, err
	}
	channelState, err := ChannelStateAddress(
		c.programID,
		c.mint,
		c.namespace,
		channel,
	)
	if err != nil {
		return solana.Signature{}, err
	}
	instruction := buildSetRootInstruction(
		c.programID,
		c.signer.PublicKey(),
		protocolState,
		channelState,
		channel,
		epoch,
		root,
	)
	return withFailover(c, func(client *rpc.Client) (solana.Signature, error) {
		blockhash, err := client.GetLatestBlockhash(
			ctx,
			rpc.CommitmentConfirmed,
		)
		if err != nil {
			return solana.Signature{}, err
		}
		tx, err := solana.NewTransaction(
			[]solana.Instruction{instruction},
			blockhash.Value.Blockhash,
			solana.TransactionPayer(c.signer.PublicKey()),
		)
		if err != nil {
			return solana.Signature{}, err
		}
		if _, err := tx.Sign(
			func(key solana.PublicKey) *solana.PrivateKey {
				if key.Equals(c.signer.PublicKey()) {
					return &c.signer
				}
				return nil
			},
		); err != nil {
			return solana.Signature{}, err
		}
		sig, err := client.SendTransactionWithOpts(
			ctx,
			tx,
			rpc.TransactionOpts{
				PreflightCommitment: rpc.CommitmentConfirmed,
			},
		)
		if err != nil {
			return solana.Signature{}, err
		}
		if err := c.awaitConfirmation(ctx, client, sig); err != nil {
			return solana.Signature{}, err
		}
		return sig, nil
	})
}

// awaitConfirmation polls signature status until the transaction is
// confirmed, fails, or the timeout elapses
func (c *Client) awaitConfirmation(
	ctx context.Context,
	client *rpc.Client,
	sig solana.Signature,
) error {
	ctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation timeout for %s: %w", sig, ctx.Err())
		case <-ticker.C:
			result, err := client.GetSignatureStatuses(ctx, false, sig)
			if err != nil {
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed,
				rpc.ConfirmationStatusFinalized:
				return nil
			}
		}
	}
}
