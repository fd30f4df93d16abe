package world

// JournalEntry is a command applied at the start of Tick. Lifecycle
// commands (Start, Pause, Resume, Shutdown) do not change simulation state
// and are not journaled.
type JournalEntry struct {
	Tick    uint64
	Command Command
}

func (w *World) journalCommand(nowTick uint64, cmd Command) {
	switch cmd.(type) {
	case Start, Pause, Resume, Shutdown, nil:
		return
	}
	w.journal = append(w.journal, JournalEntry{Tick: nowTick, Command: cmd})
}

// Journal returns a copy of every state-changing command applied so far.
// Call it only while the world loop is not running.
func (w *World) Journal() []JournalEntry {
	return append([]JournalEntry(nil), w.journal...)
}

// JournalAt groups journal entries by tick.
func JournalAt(entries []JournalEntry) map[uint64][]Command {
	out := make(map[uint64][]Command, len(entries))
	for _, e := range entries {
		out[e.Tick] = append(out[e.Tick], e.Command)
	}
	return out
}
