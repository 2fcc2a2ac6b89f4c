package registry

import "errors"

var (
	// ErrRoomExists is returned by Create when the room code is taken.
	ErrRoomExists = errors.New("room already exists")

	// ErrRoomNotFound is returned by Join when the room code is unknown.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomFull is returned by Join when the room is at capacity.
	ErrRoomFull = errors.New("room is full")

	// ErrPeerIDTaken is returned by Join when another member of the room
	// already uses the requested peer id.
	ErrPeerIDTaken = errors.New("peer id already in use in this room")
)
