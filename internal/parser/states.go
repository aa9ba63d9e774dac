package parser

type state uint8

const (
	stateStatusLine state = iota + 1
	stateHeaders
	stateBody
	stateChunkSize
	stateChunkData
	stateChunkDataEnd
	stateTrailer
	stateDead
)
