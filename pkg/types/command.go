package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// type of FSM command
type CommandType uint

const (
	CommandTypeAcquireClaim CommandType = iota + 1
	CommandTypeHeartbeatClaim
	CommandTypeReleaseClaim
	CommandTypeExpireClaims
	CommandTypeCompactTable
)

// interface all FSM commands implement. At is the command's effect time,
// stamped by the leader at submission; the applier never consults its own
// clock, so a replayed log produces the same state it produced live
type Command interface {
	Type() CommandType
	At() time.Duration
}

// inserts a new claim row under a lock
type AcquireClaimCmd struct {
	LockID  string        `json:"lock_id"`
	OwnerID string        `json:"owner_id"`
	ClaimID uuid.UUID     `json:"claim_id"` // generated by the submitter so replay is deterministic
	TTL     time.Duration `json:"ttl"`
	Now     time.Duration `json:"now"`
}

func (c AcquireClaimCmd) Type() CommandType { return CommandTypeAcquireClaim }
func (c AcquireClaimCmd) At() time.Duration { return c.Now }

// extends an existing claim's expiry by its TTL
type HeartbeatClaimCmd struct {
	LockID  string        `json:"lock_id"`
	ClaimID uuid.UUID     `json:"claim_id"`
	Now     time.Duration `json:"now"`
}

func (c HeartbeatClaimCmd) Type() CommandType { return CommandTypeHeartbeatClaim }
func (c HeartbeatClaimCmd) At() time.Duration { return c.Now }

// tombstones a claim
type ReleaseClaimCmd struct {
	LockID  string        `json:"lock_id"`
	ClaimID uuid.UUID     `json:"claim_id"`
	Now     time.Duration `json:"now"`
}

func (c ReleaseClaimCmd) Type() CommandType { return CommandTypeReleaseClaim }
func (c ReleaseClaimCmd) At() time.Duration { return c.Now }

// tombstones claims the leader found expired (internal)
type ExpireClaimsCmd struct {
	Refs []ClaimRef    `json:"refs"`
	Now  time.Duration `json:"now"`
}

func (c ExpireClaimsCmd) Type() CommandType { return CommandTypeExpireClaims }
func (c ExpireClaimsCmd) At() time.Duration { return c.Now }

// merges sealed claim-log segments and purges eligible tombstones (internal)
type CompactTableCmd struct {
	Now time.Duration `json:"now"`
}

func (c CompactTableCmd) Type() CommandType { return CommandTypeCompactTable }
func (c CompactTableCmd) At() time.Duration { return c.Now }

// StampCommand returns cmd with its effect time set to now.
func StampCommand(cmd Command, now time.Duration) Command {
	switch c := cmd.(type) {
	case AcquireClaimCmd:
		c.Now = now
		return c
	case HeartbeatClaimCmd:
		c.Now = now
		return c
	case ReleaseClaimCmd:
		c.Now = now
		return c
	case ExpireClaimsCmd:
		c.Now = now
		return c
	case CompactTableCmd:
		c.Now = now
		return c
	default:
		return cmd
	}
}

// envelope carried in the raft log
type commandEnvelope struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeCommand serializes a command for the raft log.
func EncodeCommand(cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command payload: %w", err)
	}
	return json.Marshal(commandEnvelope{
		Type:    cmd.Type(),
		Payload: payload,
	})
}

// DecodeCommand deserializes a raft log entry back into a command.
func DecodeCommand(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal command envelope: %w", err)
	}

	decode := func(cmd Command) (Command, error) {
		if err := json.Unmarshal(env.Payload, cmd); err != nil {
			return nil, fmt.Errorf("unmarshal command payload: %w", err)
		}
		return cmd, nil
	}

	switch env.Type {
	case CommandTypeAcquireClaim:
		cmd, err := decode(&AcquireClaimCmd{})
		if err != nil {
			return nil, err
		}
		return *cmd.(*AcquireClaimCmd), nil
	case CommandTypeHeartbeatClaim:
		cmd, err := decode(&HeartbeatClaimCmd{})
		if err != nil {
			return nil, err
		}
		return *cmd.(*HeartbeatClaimCmd), nil
	case CommandTypeReleaseClaim:
		cmd, err := decode(&ReleaseClaimCmd{})
		if err != nil {
			return nil, err
		}
		return *cmd.(*ReleaseClaimCmd), nil
	case CommandTypeExpireClaims:
		cmd, err := decode(&ExpireClaimsCmd{})
		if err != nil {
			return nil, err
		}
		return *cmd.(*ExpireClaimsCmd), nil
	case CommandTypeCompactTable:
		cmd, err := decode(&CompactTableCmd{})
		if err != nil {
			return nil, err
		}
		return *cmd.(*CompactTableCmd), nil
	default:
		return nil, fmt.Errorf("unknown command type: %d", env.Type)
	}
}
