// ABOUTME: Detects runaway model loops: consecutive identical tool calls and repeating content chunks.
// ABOUTME: State carries across continuations of one prompt and resets when the prompt id changes.

package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// toolCallLoopThreshold is how many consecutive identical tool calls
	// count as a loop.
	toolCallLoopThreshold = 5

	// contentLoopThreshold is how many nearby repeats of one content chunk
	// count as a loop.
	contentLoopThreshold = 10

	// contentChunkSize is the window length hashed while scanning streamed text.
	contentChunkSize = 50

	// contentLoopGapTolerance is how much the spacing between repeats of one
	// chunk may drift before the repeats stop counting as a cycle.
	contentLoopGapTolerance = 2

	// maxContentHistory caps the buffered stream text.
	maxContentHistory = 10000
)

// LoopDetector watches a turn's event stream for repeated tool calls and
// repeating text. One instance serves a session: state persists across
// continuations of the same prompt and clears when a new prompt starts.
type LoopDetector struct {
	promptID string

	lastToolCallKey string
	toolCallRepeats int

	contentHistory string
	contentIndex   int
	chunkIndices   map[string][]int
	inCodeBlock    bool

	detected bool
}

// NewLoopDetector creates an empty detector.
func NewLoopDetector() *LoopDetector {
	return &LoopDetector{chunkIndices: make(map[string][]int)}
}

// Reset prepares the detector for a prompt. State is kept when the prompt id
// is unchanged so continuations of one prompt are judged together.
func (d *LoopDetector) Reset(promptID string) {
	if promptID == d.promptID {
		return
	}
	d.promptID = promptID
	d.lastToolCallKey = ""
	d.toolCallRepeats = 0
	d.inCodeBlock = false
	d.detected = false
	d.resetContentTracking()
}

// AddAndCheck feeds one turn event to the detector and reports whether a loop
// has been detected. Once detected, the answer stays true until Reset.
func (d *LoopDetector) AddAndCheck(event Event) bool {
	if d.detected {
		return true
	}
	switch event.Type {
	case EventToolCallRequest:
		// A tool call breaks any text repetition pattern.
		d.resetContentTracking()
		d.detected = d.checkToolCallLoop(event.Request)
	case EventContent:
		d.detected = d.checkContentLoop(event.Content)
	}
	return d.detected
}

// checkToolCallLoop counts consecutive calls with an identical signature.
func (d *LoopDetector) checkToolCallLoop(req *ToolCallRequest) bool {
	key := toolCallSignature(req.Name, req.Args)
	if key == d.lastToolCallKey {
		d.toolCallRepeats++
	} else {
		d.lastToolCallKey = key
		d.toolCallRepeats = 1
	}
	return d.toolCallRepeats >= toolCallLoopThreshold
}

// checkContentLoop hashes a sliding window over the streamed text and flags a
// loop when the same chunk keeps appearing close together. Fenced code blocks
// are skipped: repetition inside code is usually legitimate.
func (d *LoopDetector) checkContentLoop(content string) bool {
	if fences := strings.Count(content, "```"); fences > 0 {
		d.resetContentTracking()
		if fences%2 == 1 {
			d.inCodeBlock = !d.inCodeBlock
		}
		return false
	}
	if d.inCodeBlock {
		return false
	}

	d.contentHistory += content
	d.truncateContentHistory()

	for d.contentIndex+contentChunkSize <= len(d.contentHistory) {
		chunk := d.contentHistory[d.contentIndex : d.contentIndex+contentChunkSize]
		if d.recordChunk(chunk) {
			return true
		}
		d.contentIndex++
	}
	return false
}

// recordChunk stores the chunk's position and reports a loop when the last
// contentLoopThreshold occurrences repeat at a tight, near-constant period.
// Cycling output replays the same text at a fixed stride; prose that merely
// reuses a phrase (or keeps ending sentences the same way) drifts in spacing.
func (d *LoopDetector) recordChunk(chunk string) bool {
	hash := sha256.Sum256([]byte(chunk))
	key := hex.EncodeToString(hash[:])

	d.chunkIndices[key] = append(d.chunkIndices[key], d.contentIndex)
	indices := d.chunkIndices[key]
	if len(indices) < contentLoopThreshold {
		return false
	}

	recent := indices[len(indices)-contentLoopThreshold:]
	minGap, maxGap := 0, 0
	for k := 1; k < len(recent); k++ {
		gap := recent[k] - recent[k-1]
		if minGap == 0 || gap < minGap {
			minGap = gap
		}
		if gap > maxGap {
			maxGap = gap
		}
	}
	if maxGap > contentChunkSize*3/2 {
		return false
	}
	return maxGap-minGap <= contentLoopGapTolerance
}

// truncateContentHistory drops the oldest buffered text once the cap is
// exceeded and shifts all stored positions accordingly.
func (d *LoopDetector) truncateContentHistory() {
	over := len(d.contentHistory) - maxContentHistory
	if over <= 0 {
		return
	}
	d.contentHistory = d.contentHistory[over:]
	d.contentIndex -= over
	if d.contentIndex < 0 {
		d.contentIndex = 0
	}
	for key, indices := range d.chunkIndices {
		adjusted := indices[:0]
		for _, idx := range indices {
			if idx >= over {
				adjusted = append(adjusted, idx-over)
			}
		}
		if len(adjusted) == 0 {
			delete(d.chunkIndices, key)
		} else {
			d.chunkIndices[key] = adjusted
		}
	}
}

func (d *LoopDetector) resetContentTracking() {
	d.contentHistory = ""
	d.contentIndex = 0
	d.chunkIndices = make(map[string][]int)
}

// toolCallSignature builds a stable fingerprint for a tool call: the name
// plus a short hash of the JSON-canonicalized arguments.
func toolCallSignature(name string, args map[string]any) string {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte(fmt.Sprintf("%v", args))
	}
	hash := sha256.Sum256(argsJSON)
	return fmt.Sprintf("%s:%s", name, hex.EncodeToString(hash[:])[:8])
}
