package circuit

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// nicknameWidth is the column width of relay nicknames in the summary.
const nicknameWidth = 20

// Summary renders one line per hop: index, role label, nickname padded to a
// fixed width and address.
//
//	1) Guard:   relayA               	 1.2.3.4
func Summary(c *Circuit) string {
	var b strings.Builder
	for i, hop := range c.Path.Hops {
		label := c.Path.Label(i) + ":"
		fmt.Fprintf(&b, "%d) %-8s %-*s \t %s\n", i+1, label,
			nicknameWidth, hop.Node.Nickname, hop.Node.Address)
	}

	return b.String()
}

// Table renders the circuit hops as a table including fingerprints and
// bandwidth.
func Table(c *Circuit) string {
	t := table.NewWriter()
	t.SetTitle("Circuit %s", c.ID)
	t.AppendHeader(table.Row{
		"#", "Role", "Nickname", "Address", "Fingerprint", "Bandwidth",
	})
	for i, hop := range c.Path.Hops {
		t.AppendRow(table.Row{
			i + 1, c.Path.Label(i), hop.Node.Nickname,
			hop.Node.Address, hop.Node.Fingerprint,
			hop.Node.Bandwidth,
		})
	}
	t.SetStyle(table.StyleLight)

	return t.Render()
}
