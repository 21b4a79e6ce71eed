package protocol

import "testing"

func TestCmdMsg_Check(t *testing.T) {
	cases := []struct {
		name string
		cmd  CmdMsg
		ok   bool
	}{
		{"open", CmdMsg{ID: "1", Kind: CmdOpenConnector, Connector: "d1"}, true},
		{"close no connector", CmdMsg{ID: "1", Kind: CmdCloseConnector}, false},
		{"mode", CmdMsg{ID: "1", Kind: CmdSetMode, Room: "lab", Mode: "CHEAP"}, true},
		{"mode no mode", CmdMsg{ID: "1", Kind: CmdSetMode, Room: "lab"}, false},
		{"enter", CmdMsg{ID: "1", Kind: CmdBodyEnter, Room: "lab", Body: "crate"}, true},
		{"exit no body", CmdMsg{ID: "1", Kind: CmdBodyExit, Room: "lab"}, false},
		{"no id", CmdMsg{Kind: CmdOpenConnector, Connector: "d1"}, false},
		{"unknown kind", CmdMsg{ID: "1", Kind: "VENT"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cmd.Check()
			if tc.ok != (err == nil) {
				t.Fatalf("Check() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestAckConstructors(t *testing.T) {
	a := NewAck("c1", 7)
	if a.Type != TypeAck || !a.OK || a.Tick != 7 || a.Code != "" {
		t.Fatalf("ack = %+v", a)
	}
	r := NewReject("c2", 8, ErrNotFound, "no such room")
	if r.OK || r.Code != ErrNotFound || !IsKnownCode(r.Code) {
		t.Fatalf("reject = %+v", r)
	}
}
