// Package notify is the publish/subscribe boundary between the
// proctoring pipeline and connected clients. It supports direct
// per-connection delivery and room broadcast, with a process-local hub
// and an optional Redis bridge for multi-node deployments.
package notify

import "context"

// Event is one named message delivered to clients, socket-event style.
type Event struct {
	Name string         `json:"event"`
	Data map[string]any `json:"data"`
}

// Hub delivers events. Delivery is best-effort: emitting to an unknown
// connection or an empty room is not an error, and slow consumers are
// dropped rather than blocking the pipeline.
type Hub interface {
	// EmitToConn delivers an event to one connection.
	EmitToConn(ctx context.Context, connID string, evt Event) error
	// EmitToRoom broadcasts an event to every connection in a room.
	EmitToRoom(ctx context.Context, room string, evt Event) error
	// JoinRoom adds a connection to a broadcast room.
	JoinRoom(connID, room string)
	// LeaveRoom removes a connection from a room.
	LeaveRoom(connID, room string)
}

// ProctorRoom names the broadcast room for observers of one exam.
func ProctorRoom(examID string) string { return "proctor:" + examID }
