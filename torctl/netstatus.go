package torctl

import (
	"bufio"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lightningnetwork/torpath/relay"
)

// identityLen is the length of a relay identity digest.
const identityLen = 20

// maxDocumentLine bounds a single line of a network document.
const maxDocumentLine = 1024 * 1024

// decodeIdentity converts the unpadded base64 identity of an "r" line into
// the upper case hex fingerprint.
func decodeIdentity(identity string) (string, error) {
	raw, err := base64.RawStdEncoding.DecodeString(
		strings.TrimRight(identity, "="),
	)
	if err != nil {
		return "", err
	}
	if len(raw) != identityLen {
		return "", fmt.Errorf("identity has %d bytes", len(raw))
	}

	return strings.ToUpper(hex.EncodeToString(raw)), nil
}

// parseRouterLine parses "r nickname identity digest date time IP ORPort
// DirPort".
func parseRouterLine(line string) (relay.Node, error) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return relay.Node{}, fmt.Errorf("short router status: %q", line)
	}

	fingerprint, err := decodeIdentity(fields[2])
	if err != nil {
		return relay.Node{}, fmt.Errorf("identity of %v: %w", fields[1],
			err)
	}

	orPort, err := strconv.ParseUint(fields[7], 10, 16)
	if err != nil {
		return relay.Node{}, fmt.Errorf("ORPort of %v: %w", fields[1],
			err)
	}

	return relay.Node{
		Fingerprint: fingerprint,
		Nickname:    fields[1],
		Address:     fields[6],
		ORPort:      uint16(orPort),
	}, nil
}

// parseBandwidth returns the Bandwidth value of a "w" line, zero if absent.
func parseBandwidth(line string) uint64 {
	for _, field := range strings.Fields(line)[1:] {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key != "Bandwidth" {
			continue
		}

		bw, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return 0
		}

		return bw
	}

	return 0
}

// ParseNetworkStatus parses router status entries, as returned by GETINFO
// ns/all, into nodes. Entries with a malformed "r" line are skipped.
func ParseNetworkStatus(r io.Reader) ([]relay.Node, error) {
	var (
		nodes   []relay.Node
		current *relay.Node
	)
	flush := func() {
		if current != nil {
			nodes = append(nodes, *current)
			current = nil
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxDocumentLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		keyword, rest, _ := strings.Cut(line, " ")

		switch keyword {
		case "r":
			flush()

			node, err := parseRouterLine(line)
			if err != nil {
				log.Warnf("Skipping router status: %v", err)
				continue
			}
			current = &node

		case "s":
			if current != nil {
				current.Flags = relay.ParseFlags(rest)
			}

		case "w":
			if current != nil {
				current.Bandwidth = parseBandwidth(line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("unable to read network status: %w", err)
	}
	flush()

	return nodes, nil
}

// ParseDescriptorFamilies extracts the family declaration of every server
// descriptor, as returned by GETINFO desc/all-recent. Descriptors without a
// family line are omitted.
func ParseDescriptorFamilies(r io.Reader) ([]relay.FamilyDeclaration,
	error) {

	var (
		decls   []relay.FamilyDeclaration
		current *relay.FamilyDeclaration
	)
	flush := func() {
		if current != nil && current.Fingerprint != "" &&
			len(current.Members) > 0 {

			decls = append(decls, *current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxDocumentLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "opt ")
		keyword, rest, _ := strings.Cut(line, " ")

		switch keyword {
		case "router":
			flush()
			current = &relay.FamilyDeclaration{}

		case "fingerprint":
			if current != nil {
				current.Fingerprint = strings.ReplaceAll(
					rest, " ", "",
				)
			}

		case "family":
			if current != nil {
				current.Members = append(
					current.Members, strings.Fields(rest)...,
				)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("unable to read descriptors: %w", err)
	}
	flush()

	return decls, nil
}
