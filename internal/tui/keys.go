package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Left      key.Binding
	Right     key.Binding
	Toggle    key.Binding
	Play      key.Binding
	TempoUp   key.Binding
	TempoDown key.Binding
	MultUp    key.Binding
	MultDown  key.Binding
	Mute      key.Binding
	Solo      key.Binding
	Reverse   key.Binding
	Sequence  key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func newKey(help string, keys ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(keys[0], help))
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:        newKey("up", "up", "k"),
		Down:      newKey("down", "down", "j"),
		Left:      newKey("left", "left", "h"),
		Right:     newKey("right", "right", "l"),
		Toggle:    newKey("toggle step", " ", "x"),
		Play:      newKey("play/stop", "p"),
		TempoUp:   newKey("tempo +5", "+", "="),
		TempoDown: newKey("tempo -5", "-", "_"),
		MultUp:    newKey("steps/beat +1", "]"),
		MultDown:  newKey("steps/beat -1", "["),
		Mute:      newKey("mute", "m"),
		Solo:      newKey("solo", "s"),
		Reverse:   newKey("reverse", "r"),
		Sequence:  newKey("next sequence", "tab"),
		Help:      newKey("help", "?"),
		Quit:      newKey("quit", "q", "ctrl+c"),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Play, k.TempoUp, k.TempoDown, k.Toggle, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Left, k.Right, k.Toggle},
		{k.Play, k.TempoUp, k.TempoDown, k.MultUp, k.MultDown},
		{k.Mute, k.Solo, k.Reverse, k.Sequence, k.Help, k.Quit},
	}
}
