package torctl

import (
	"strings"

	"github.com/jellydator/ttlcache/v3"
	"github.com/lightningnetwork/torpath/attach"
	"github.com/lightningnetwork/torpath/lnutils"
)

// Final circuit statuses reported by CIRC events.
const (
	circBuilt  = "BUILT"
	circFailed = "FAILED"
	circClosed = "CLOSED"
)

// circuitEvent is a parsed CIRC event.
type circuitEvent struct {
	ID     string
	Status string
	Reason string
}

// final returns true if no further status is expected for the circuit
// while a build request waits on it.
func (e circuitEvent) final() bool {
	switch e.Status {
	case circBuilt, circFailed, circClosed:
		return true
	}

	return false
}

// parseCircuitEvent parses "CIRC <id> <status> [path] [KEY=VALUE...]".
func parseCircuitEvent(line string) (circuitEvent, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != "CIRC" {
		return circuitEvent{}, false
	}

	params := parseTorReply(line)

	return circuitEvent{
		ID:     fields[1],
		Status: fields[2],
		Reason: params["REASON"],
	}, true
}

// parseStreamEvent parses "STREAM <id> <status> <circuit> <target>
// [KEY=VALUE...]".
func parseStreamEvent(line string) (attach.StreamEvent, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "STREAM" {
		return attach.StreamEvent{}, false
	}

	return attach.StreamEvent{
		ID:        fields[1],
		Status:    attach.StreamStatus(fields[2]),
		CircuitID: fields[3],
		Target:    fields[4],
	}, true
}

// dispatchEvents hands queued event notifications to their consumers.
//
// NOTE: MUST be run as a goroutine.
func (c *Controller) dispatchEvents() {
	defer c.wg.Done()

	for {
		select {
		case item := <-c.events.ChanOut():
			resp, ok := item.(*reply)
			if !ok {
				continue
			}

			c.handleEvent(resp)

		case <-c.quit:
			return
		}
	}
}

// handleEvent routes a single event notification.
func (c *Controller) handleEvent(resp *reply) {
	if len(resp.lines) == 0 {
		return
	}
	line := resp.lines[0]

	log.Tracef("Received event: %v", lnutils.SpewLogClosure(resp))

	keyword, _, _ := strings.Cut(line, " ")
	switch keyword {
	case "CIRC":
		event, ok := parseCircuitEvent(line)
		if !ok {
			log.Warnf("Malformed circuit event: %v", line)
			return
		}
		c.handleCircuitEvent(event)

	case "STREAM":
		event, ok := parseStreamEvent(line)
		if !ok {
			log.Warnf("Malformed stream event: %v", line)
			return
		}

		if err := c.streams.SendUpdate(event); err != nil {
			log.Debugf("Dropping %v: %v", event, err)
		}

	default:
		log.Debugf("Ignoring event: %v", line)
	}
}

// handleCircuitEvent notifies the build request waiting on the circuit. A
// final status arriving before the waiter registered is remembered.
func (c *Controller) handleCircuitEvent(event circuitEvent) {
	log.Debugf("Circuit %s: %s %s", event.ID, event.Status, event.Reason)

	if !event.final() {
		return
	}

	c.circMtx.Lock()
	defer c.circMtx.Unlock()

	waiter, ok := c.circWaiters[event.ID]
	if !ok {
		c.recentCircuits.DeleteExpired()
		c.recentCircuits.Set(event.ID, event, ttlcache.DefaultTTL)

		return
	}

	delete(c.circWaiters, event.ID)
	waiter <- event
}

// watchCircuit registers a waiter for the final status of a circuit.
func (c *Controller) watchCircuit(id string) <-chan circuitEvent {
	c.circMtx.Lock()
	defer c.circMtx.Unlock()

	waiter := make(chan circuitEvent, 1)

	item, ok := c.recentCircuits.GetAndDelete(id)
	if ok {
		waiter <- item.Value()

		return waiter
	}

	c.circWaiters[id] = waiter

	return waiter
}

// unwatchCircuit removes the waiter of a circuit.
func (c *Controller) unwatchCircuit(id string) {
	c.circMtx.Lock()
	defer c.circMtx.Unlock()

	delete(c.circWaiters, id)
}
