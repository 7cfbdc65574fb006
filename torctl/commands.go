package torctl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lightningnetwork/torpath/attach"
	"github.com/lightningnetwork/torpath/relay"
	"github.com/lightningnetwork/torpath/weights"
)

// closeCircuitTimeout bounds the best effort close of a circuit that did
// not build in time.
const closeCircuitTimeout = 5 * time.Second

// GetInfo queries the given keys. Multi line values are joined with "\n".
func (c *Controller) GetInfo(ctx context.Context,
	keys ...string) (map[string]string, error) {

	resp, err := c.sendCommand(ctx, "GETINFO "+strings.Join(keys, " "))
	if err != nil {
		return nil, fmt.Errorf("GETINFO %v: %w", keys, err)
	}

	info := make(map[string]string, len(keys))
	for _, line := range resp.lines {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		if data, ok := resp.data[key]; ok {
			value = strings.Join(data, "\n")
		}
		info[key] = value
	}

	for _, key := range keys {
		if _, ok := info[key]; !ok {
			return nil, fmt.Errorf("GETINFO reply misses %v", key)
		}
	}

	return info, nil
}

// getInfo queries a single key.
func (c *Controller) getInfo(ctx context.Context, key string) (string,
	error) {

	info, err := c.GetInfo(ctx, key)
	if err != nil {
		return "", err
	}

	return info[key], nil
}

// Ping checks that the control connection answers commands.
func (c *Controller) Ping(ctx context.Context) error {
	_, err := c.getInfo(ctx, "version")
	return err
}

// NetworkStatuses returns every relay of the current consensus.
func (c *Controller) NetworkStatuses(ctx context.Context) ([]relay.Node,
	error) {

	ns, err := c.getInfo(ctx, "ns/all")
	if err != nil {
		return nil, err
	}

	return ParseNetworkStatus(strings.NewReader(ns))
}

// FamilyDeclarations returns the family declarations of all recent server
// descriptors.
func (c *Controller) FamilyDeclarations(
	ctx context.Context) ([]relay.FamilyDeclaration, error) {

	descs, err := c.getInfo(ctx, "desc/all-recent")
	if err != nil {
		return nil, err
	}

	return ParseDescriptorFamilies(strings.NewReader(descs))
}

// ConsensusWeights returns the bandwidth weights of the current consensus.
func (c *Controller) ConsensusWeights(ctx context.Context) (*weights.Table,
	error) {

	consensus, err := c.getInfo(ctx, "dir/status-vote/current/consensus")
	if err != nil {
		return nil, err
	}

	return weights.ParseConsensus(strings.NewReader(consensus))
}

// SetConf sets a configuration option.
func (c *Controller) SetConf(ctx context.Context, key, value string) error {
	cmd := fmt.Sprintf("SETCONF %s=%s", key, quoteValue(value))
	if _, err := c.sendCommand(ctx, cmd); err != nil {
		return fmt.Errorf("SETCONF %v: %w", key, err)
	}

	return nil
}

// ResetConf resets configuration options to their defaults.
func (c *Controller) ResetConf(ctx context.Context, keys ...string) error {
	cmd := "RESETCONF " + strings.Join(keys, " ")
	if _, err := c.sendCommand(ctx, cmd); err != nil {
		return fmt.Errorf("RESETCONF %v: %w", keys, err)
	}

	return nil
}

// SubscribeStreamEvents returns a feed of stream events. The feed must be
// cancelled once no longer needed.
func (c *Controller) SubscribeStreamEvents() (attach.Feed, error) {
	client, err := c.streams.Subscribe()
	if err != nil {
		return nil, err
	}

	return client, nil
}

// AttachStream attaches a stream to a circuit.
func (c *Controller) AttachStream(ctx context.Context, streamID,
	circuitID string) error {

	cmd := fmt.Sprintf("ATTACHSTREAM %s %s", streamID, circuitID)
	if _, err := c.sendCommand(ctx, cmd); err != nil {
		return fmt.Errorf("ATTACHSTREAM %v: %w", streamID, err)
	}

	return nil
}

// CloseCircuit closes a circuit.
func (c *Controller) CloseCircuit(ctx context.Context, circuitID string) error {
	cmd := fmt.Sprintf("CLOSECIRCUIT %s", circuitID)
	if _, err := c.sendCommand(ctx, cmd); err != nil {
		return fmt.Errorf("CLOSECIRCUIT %v: %w", circuitID, err)
	}

	return nil
}

// RequestCircuit asks the router to build a new circuit through the given
// fingerprints, guard first, and waits until it is reported built. If the
// context ends first the circuit is closed on a best effort basis.
func (c *Controller) RequestCircuit(ctx context.Context,
	fingerprints []string) (string, error) {

	hops := make([]string, 0, len(fingerprints))
	for _, fp := range fingerprints {
		hops = append(hops, "$"+relay.NormalizeFingerprint(fp))
	}

	cmd := fmt.Sprintf("EXTENDCIRCUIT 0 %s", strings.Join(hops, ","))
	resp, err := c.sendCommand(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("EXTENDCIRCUIT: %w", err)
	}

	// A successful reply is "250 EXTENDED <id>".
	fields := strings.Fields(resp.text())
	if len(fields) != 2 || fields[0] != "EXTENDED" {
		return "", fmt.Errorf("unexpected EXTENDCIRCUIT reply: %q",
			resp.text())
	}
	circuitID := fields[1]

	log.Debugf("Circuit %s launched through %d hops", circuitID,
		len(hops))

	select {
	case event := <-c.watchCircuit(circuitID):
		if event.Status == circBuilt {
			return circuitID, nil
		}

		return "", fmt.Errorf("%w: circuit %s %s, reason=%s",
			ErrCircuitFailed, circuitID, event.Status, event.Reason)

	case <-ctx.Done():
		c.unwatchCircuit(circuitID)

		closeCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx), closeCircuitTimeout,
		)
		defer cancel()

		if err := c.CloseCircuit(closeCtx, circuitID); err != nil {
			log.Debugf("Unable to close circuit %s: %v",
				circuitID, err)
		}

		return "", fmt.Errorf("circuit %s not built: %w", circuitID,
			ctx.Err())

	case <-c.quit:
		return "", ErrStopped
	}
}
