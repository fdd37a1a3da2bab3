package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"
)

type Tray struct {
	logger *slog.Logger

	statusItem *systray.MenuItem
	cancelItem *systray.MenuItem

	mu sync.Mutex

	onCancel func()
	onQuit   func()
}

type TrayConfig struct {
	Logger   *slog.Logger
	OnCancel func()
	OnQuit   func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		logger:   cfg.Logger,
		onCancel: cfg.OnCancel,
		onQuit:   cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Cutroom")
	systray.SetTooltip("Cutroom Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current compile status")
	t.statusItem.Disable()

	systray.AddSeparator()

	t.cancelItem = systray.AddMenuItem("Cancel Compile", "Cancel the active compile")
	t.cancelItem.Disable()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Cutroom Agent")

	go func() {
		for {
			select {
			case <-t.cancelItem.ClickedCh:
				t.handleCancel()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) handleCancel() {
	t.logger.Info("cancel requested from tray")
	if t.onCancel != nil {
		t.onCancel()
	}
}

// SetIdle shows the idle state and disables the cancel item.
func (t *Tray) SetIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusItem == nil {
		return
	}
	t.statusItem.SetTitle("Status: Idle")
	t.cancelItem.Disable()
}

// SetCompiling shows live compile progress and enables the cancel item.
func (t *Tray) SetCompiling(percent float64, stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusItem == nil {
		return
	}
	t.statusItem.SetTitle(fmt.Sprintf("Status: Compiling %.0f%%", percent))
	if stage != "" {
		t.statusItem.SetTooltip(stage)
	}
	t.cancelItem.Enable()
}

// SetError surfaces the last compile failure in the menu.
func (t *Tray) SetError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusItem == nil {
		return
	}
	if len(message) > 48 {
		message = message[:48] + "..."
	}
	t.statusItem.SetTitle("Status: Error - " + message)
	t.cancelItem.Disable()
}

func (t *Tray) Quit() {
	systray.Quit()
}
