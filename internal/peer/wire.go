// Package peer implements the remote-node handle and its initial sync
// state machine: the request/reply dialogue a freshly adopted peer runs
// to discover owned buckets and reconcile overlapping keys.
package peer

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Wire verbs exchanged over the reply endpoint.
const (
	VerbPeer    = "PEER"
	VerbPeers   = "PEERS"
	VerbBuckets = "BUCKETS"
	VerbKeys    = "KEYS"
	VerbGet     = "GET"
	VerbEcho    = "ECHO"
	VerbError   = "ERROR"
	VerbUpdate  = "UPDATE"
)

// DecodePeersReply parses a PEERS, json({id: reply_addr, ...}) reply. The
// map is consumed for logging only — discovery happens transitively over
// the publish channel, never by direct dial from this map.
func DecodePeersReply(frames [][]byte) (map[string]string, error) {
	if len(frames) < 2 || string(frames[0]) != VerbPeers {
		return nil, fmt.Errorf("peer: malformed PEERS reply: %v", frameStrings(frames))
	}
	var out map[string]string
	if err := json.Unmarshal(frames[1], &out); err != nil {
		return nil, fmt.Errorf("peer: decode PEERS payload: %w", err)
	}
	return out, nil
}

// DecodeBucketsReply parses a BUCKETS, json([prefix, ...]) reply.
func DecodeBucketsReply(frames [][]byte) ([]string, error) {
	if len(frames) < 2 || string(frames[0]) != VerbBuckets {
		return nil, fmt.Errorf("peer: malformed BUCKETS reply: %v", frameStrings(frames))
	}
	var out []string
	if err := json.Unmarshal(frames[1], &out); err != nil {
		return nil, fmt.Errorf("peer: decode BUCKETS payload: %w", err)
	}
	return out, nil
}

// DecodeKeysReply parses a KEYS, prefix, json({key: timestamp, ...}) reply.
func DecodeKeysReply(frames [][]byte) (map[string]float64, error) {
	if len(frames) < 3 || string(frames[0]) != VerbKeys {
		return nil, fmt.Errorf("peer: malformed KEYS reply: %v", frameStrings(frames))
	}
	var out map[string]float64
	if err := json.Unmarshal(frames[2], &out); err != nil {
		return nil, fmt.Errorf("peer: decode KEYS payload: %w", err)
	}
	return out, nil
}

// DecodeGetReply parses a GET, key, value, repr(timestamp) reply, or an
// ERROR, KeyError, GET, key miss reply.
func DecodeGetReply(frames [][]byte) (value []byte, ts float64, err error) {
	if len(frames) >= 1 && string(frames[0]) == VerbError {
		return nil, 0, fmt.Errorf("peer: remote key missing: %v", frameStrings(frames))
	}
	if len(frames) < 4 || string(frames[0]) != VerbGet {
		return nil, 0, fmt.Errorf("peer: malformed GET reply: %v", frameStrings(frames))
	}
	ts, err = strconv.ParseFloat(string(frames[3]), 64)
	if err != nil {
		return nil, 0, fmt.Errorf("peer: parse GET timestamp: %w", err)
	}
	return frames[2], ts, nil
}

func frameStrings(frames [][]byte) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = string(f)
	}
	return out
}
