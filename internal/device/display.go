package device

import "sync"

const initialDisplay = "Initializing..."

// Display mirrors the text the device last pushed to its LCD.
type Display struct {
	mu   sync.RWMutex
	text string
}

func NewDisplay() *Display {
	return &Display{text: initialDisplay}
}

func (d *Display) Set(text string) {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
}

func (d *Display) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.text
}
