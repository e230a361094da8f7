package wire

import (
	"context"

	qerrors "github.com/rqure/qcore/pkg/errors"
)

// Peer message names. Leader-to-follower sync uses the same
// framing as client commands with a PEER prefix; the driving
// replication loop is an external collaborator behind PeerLink.
const (
	CmdPeer             = "PEER"
	PeerHandshakeName   = "HANDSHAKE"
	PeerFullSyncReqName = "FULL_SYNC_REQUEST"
	PeerFullSyncRespName = "FULL_SYNC_RESPONSE"
	PeerSyncWriteName   = "SYNC_WRITE"
)

// PeerHandshake opens a peer session: each side announces its start
// time and machine id; the older process leads.
type PeerHandshake struct {
	StartTimeNanos int64
	IsResponse     bool
	MachineId      string
}

// Frame renders the handshake as PEER HANDSHAKE <start> <isResponse> <machine>.
func (p PeerHandshake) Frame() Frame {
	return NewArray(
		NewBulkString(CmdPeer),
		NewBulkString(PeerHandshakeName),
		NewInt(p.StartTimeNanos),
		NewBool(p.IsResponse),
		NewBulkString(p.MachineId),
	)
}

// PeerFullSyncRequest asks the leader for a full snapshot.
type PeerFullSyncRequest struct{}

func (PeerFullSyncRequest) Frame() Frame {
	return NewArray(NewBulkString(CmdPeer), NewBulkString(PeerFullSyncReqName))
}

// PeerFullSyncResponse carries an encoded snapshot blob.
type PeerFullSyncResponse struct {
	Snapshot []byte
}

func (p PeerFullSyncResponse) Frame() Frame {
	return NewArray(NewBulkString(CmdPeer), NewBulkString(PeerFullSyncRespName), NewBulk(p.Snapshot))
}

// PeerSyncWrite streams one accepted write batch to a follower; the
// payload is the batch's commands re-encoded as a frame.
type PeerSyncWrite struct {
	Requests Frame
}

func (p PeerSyncWrite) Frame() Frame {
	return NewArray(NewBulkString(CmdPeer), NewBulkString(PeerSyncWriteName), p.Requests)
}

// ParsePeerMessage decodes a PEER frame into its typed message.
func ParsePeerMessage(f Frame) (any, error) {
	if f.Type != TypeArray || len(f.Items) < 2 || f.Items[0].Text() != CmdPeer {
		return nil, qerrors.InvalidRequest("not a PEER frame")
	}
	switch f.Items[1].Text() {
	case PeerHandshakeName:
		if len(f.Items) != 5 {
			return nil, qerrors.InvalidRequest("bad PEER HANDSHAKE arity")
		}
		return PeerHandshake{
			StartTimeNanos: f.Items[2].Int,
			IsResponse:     f.Items[3].Bool,
			MachineId:      f.Items[4].Text(),
		}, nil
	case PeerFullSyncReqName:
		return PeerFullSyncRequest{}, nil
	case PeerFullSyncRespName:
		if len(f.Items) != 3 {
			return nil, qerrors.InvalidRequest("bad PEER FULL_SYNC_RESPONSE arity")
		}
		return PeerFullSyncResponse{Snapshot: f.Items[2].Str}, nil
	case PeerSyncWriteName:
		if len(f.Items) != 3 {
			return nil, qerrors.InvalidRequest("bad PEER SYNC_WRITE arity")
		}
		return PeerSyncWrite{Requests: f.Items[2]}, nil
	default:
		return nil, qerrors.InvalidRequest("unknown PEER message " + f.Items[1].Text())
	}
}

// PeerLink is the transport a replication driver speaks over. The
// accept loop and the driving goroutine are out of scope; the link
// only moves frames.
type PeerLink interface {
	Send(ctx context.Context, f Frame) error
	Recv(ctx context.Context) (Frame, error)
}
