// Package apiv1 defines the wire surface of the lock service. Messages are
// plain structs carried by the JSON codec; the service is registered through
// a hand-written grpc.ServiceDesc, the same registration surface generated
// stubs compile down to.
package apiv1

// AcquireClaimRequest inserts a claim for a lock.
type AcquireClaimRequest struct {
	LockId     string `json:"lock_id"`
	OwnerId    string `json:"owner_id"`
	TtlSeconds int64  `json:"ttl_seconds"`
}

type AcquireClaimResponse struct {
	ClaimId      string `json:"claim_id"`
	Position     int32  `json:"position"`
	Holding      bool   `json:"holding"`
	HolderId     string `json:"holder_id"`
	FencingToken uint64 `json:"fencing_token"`
	TtlSeconds   int64  `json:"ttl_seconds"`
}

// HeartbeatRequest renews one claim on the heartbeat stream.
type HeartbeatRequest struct {
	LockId  string `json:"lock_id"`
	ClaimId string `json:"claim_id"`
}

type HeartbeatResponse struct {
	LockId     string `json:"lock_id"`
	ClaimId    string `json:"claim_id"`
	TtlSeconds int64  `json:"ttl_seconds"`
	Holding    bool   `json:"holding"`
}

type ReleaseClaimRequest struct {
	LockId  string `json:"lock_id"`
	ClaimId string `json:"claim_id"`
}

type ReleaseClaimResponse struct {
	Released    bool   `json:"released"`
	NewHolderId string `json:"new_holder_id"`
}

// GetLockRequest reads a lock's current holder.
type GetLockRequest struct {
	LockId string `json:"lock_id"`
}

type GetLockResponse struct {
	LockId        string `json:"lock_id"`
	HolderClaimId string `json:"holder_claim_id"`
	HolderOwnerId string `json:"holder_owner_id"`
	FencingToken  uint64 `json:"fencing_token"`
	LiveClaims    int32  `json:"live_claims"`
	TtlSeconds    int64  `json:"ttl_seconds"`
}

type GetStatusRequest struct{}

type TableStats struct {
	Locks          int32  `json:"locks"`
	Claims         int32  `json:"claims"`
	LiveClaims     int32  `json:"live_claims"`
	Tombstones     int32  `json:"tombstones"`
	Segments       int32  `json:"segments"`
	FencingCounter uint64 `json:"fencing_counter"`
}

type GetStatusResponse struct {
	NodeId        string      `json:"node_id"`
	IsLeader      bool        `json:"is_leader"`
	LeaderAddress string      `json:"leader_address"`
	ClusterSize   int32       `json:"cluster_size"`
	State         string      `json:"state"`
	Stats         *TableStats `json:"stats"`
}

// JoinRequest asks the leader to add a raft voter.
type JoinRequest struct {
	NodeId      string `json:"node_id"`
	RaftAddress string `json:"raft_address"`
}

type JoinResponse struct{}
