package bootloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	daqcore "github.com/daqifi/daqifi-core"
)

var wifiPercentRe = regexp.MustCompile(`(\d{1,3})\s*%`)

const (
	powerCyclePrompt = "Power cycle WINC and set to bootloader mode"
	maxExcerptLines  = 5
)

// UpdateWiFiModule drives the WiFi radio module reflash flow (§4.12),
// delegating the actual programming to an external flash tool.
func (u *Updater) UpdateWiFiModule(ctx context.Context, device DeviceHandle, firmwarePath string, progress ProgressSink, stateSink StateChangeSink) error {
	if !u.running.CompareAndSwap(false, true) {
		return daqcore.NewError(daqcore.InvalidOperation, "bootloader.UpdateWiFiModule", errors.New("an update is already in progress"))
	}
	defer u.running.Store(false)

	u.mu.Lock()
	defer u.mu.Unlock()

	if progress == nil {
		progress = ProgressFunc(noopProgress)
	}
	if stateSink == nil {
		stateSink = StateChangeFunc(noopStateChange)
	}
	u.progress, u.stateSink = progress, stateSink
	u.state = Idle

	if err := u.wifiPreparingDevice(ctx, device); err != nil {
		u.fail(err.(failure))
		return err.(failure).updateErr
	}
	if err := u.wifiProgramming(ctx, device, firmwarePath); err != nil {
		u.fail(err.(failure))
		return err.(failure).updateErr
	}
	if err := u.wifiVerifying(ctx, device); err != nil {
		u.fail(err.(failure))
		return err.(failure).updateErr
	}
	if err := u.transition(Complete, "complete"); err != nil {
		f := asFailure(Complete, "complete", err)
		u.fail(f)
		return f.updateErr
	}
	u.report(100, "complete", 0, 0)
	_ = u.transition(Idle, "reset-after-complete")
	return nil
}

func (u *Updater) wifiPreparingDevice(ctx context.Context, device DeviceHandle) error {
	const op = "PreparingDevice"
	if err := u.transition(PreparingDevice, op); err != nil {
		return asFailure(PreparingDevice, op, err)
	}
	u.report(0, op, 0, 0)

	if err := device.SendCommand(ctx, scpiLANFWUpdate); err != nil {
		return asFailure(PreparingDevice, op, err)
	}
	if err := sleepCtx(ctx, u.opts.PostLANFirmwareModeDelay); err != nil {
		return asFailure(PreparingDevice, op, err)
	}
	if err := device.Disconnect(ctx); err != nil {
		return asFailure(PreparingDevice, op, err)
	}
	return nil
}

// resolveToolPath finds the flash tool executable: firmwarePath itself
// if it is a file, or the first recursive match of the configured tool
// file name if firmwarePath is a directory.
func resolveToolPath(firmwarePath, toolFileName string) (string, error) {
	info, err := os.Stat(firmwarePath)
	if err != nil {
		return "", daqcore.NewError(daqcore.NotFound, "bootloader.resolveToolPath", err)
	}
	if !info.IsDir() {
		return firmwarePath, nil
	}
	var found string
	err = filepath.WalkDir(firmwarePath, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if found != "" {
			return filepath.SkipAll
		}
		if !d.IsDir() && d.Name() == toolFileName {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", daqcore.NewError(daqcore.Io, "bootloader.resolveToolPath", err)
	}
	if found == "" {
		return "", daqcore.NewError(daqcore.NotFound, "bootloader.resolveToolPath",
			fmt.Errorf("no file named %q found under %s", toolFileName, firmwarePath))
	}
	return found, nil
}

func buildWiFiArgs(template, port, firmwarePath string) []string {
	args := strings.ReplaceAll(template, "{port}", port)
	if strings.Contains(args, "{firmwarePath}") {
		args = strings.ReplaceAll(args, "{firmwarePath}", firmwarePath)
	}
	return strings.Fields(args)
}

func (u *Updater) wifiProgramming(ctx context.Context, device DeviceHandle, firmwarePath string) error {
	const op = "Programming"
	if err := u.transition(Programming, op); err != nil {
		return asFailure(Programming, op, err)
	}
	u.report(20, op, 0, 0)

	toolFileName := u.opts.WiFiFlashToolFileName
	if toolFileName == "" {
		toolFileName = "winc_flash_tool.cmd"
	}
	toolPath, err := resolveToolPath(firmwarePath, toolFileName)
	if err != nil {
		return asFailure(Programming, op, err)
	}

	port := u.opts.WiFiPortOverride
	if port == "" {
		port = device.Name()
	}
	template := u.opts.WiFiFlashToolArgsTemplate
	if template == "" {
		template = "/p {port} /d WINC1500 /k /e /i aio /w"
	}
	args := buildWiFiArgs(template, port, firmwarePath)

	name, args := shellWrap(toolPath, args)

	sctx, cancel := context.WithTimeout(ctx, u.opts.WiFiProcessTimeout)
	defer cancel()

	var (
		lastReportedPercent int
		lines               []string
	)
	onLine := func(line string, stderr bool) bool {
		lines = append(lines, line)
		needsPowerCycle := strings.Contains(strings.ToLower(line), strings.ToLower(powerCyclePrompt))
		if needsPowerCycle {
			u.log.Info("[BOOT] flash tool is waiting for a power cycle, sending empty line on stdin")
		}
		percent := scanWiFiPercent(line, lastReportedPercent)
		if percent > lastReportedPercent {
			lastReportedPercent = percent
		}
		displayed := 20 + int(float64(lastReportedPercent)*0.70)
		u.lastPercent = clampPercent(displayed)
		u.report(u.lastPercent, op, 0, 0)
		return needsPowerCycle
	}

	result, err := u.process.Run(sctx, name, args, onLine)
	if err != nil {
		return asFailure(Programming, op, err)
	}
	if result.TimedOut {
		return asFailure(Programming, op, daqcore.NewError(daqcore.Timeout, op, fmt.Errorf("wifi flash tool timed out after %s", u.opts.WiFiProcessTimeout)))
	}
	if containsFailureMarker(lines) || result.ExitCode != 0 {
		return asFailure(Programming, op, daqcore.NewError(daqcore.Io, op, fmt.Errorf("flash tool exited %d: %s", result.ExitCode, excerpt(lines))))
	}
	return nil
}

// shellWrap wraps the invocation through the platform shell when the
// host's default script interpreter handles .cmd/.bat files.
func shellWrap(toolPath string, args []string) (string, []string) {
	if runtime.GOOS != "windows" {
		return toolPath, args
	}
	ext := strings.ToLower(filepath.Ext(toolPath))
	if ext != ".cmd" && ext != ".bat" {
		return toolPath, args
	}
	wrapped := append([]string{"/C", toolPath}, args...)
	return "cmd", wrapped
}

func scanWiFiPercent(line string, previous int) int {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "begin write operation"):
		return max(previous, 33)
	case strings.Contains(lower, "begin read operation"):
		return max(previous, 66)
	case strings.Contains(lower, "begin verify operation"):
		return max(previous, 90)
	}
	if m := wifiPercentRe.FindStringSubmatch(line); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return max(previous, clampPercent(v))
		}
	}
	return previous
}

func containsFailureMarker(lines []string) bool {
	for _, l := range lines {
		if strings.Contains(strings.ToLower(l), "programming device failed") {
			return true
		}
	}
	return false
}

func excerpt(lines []string) string {
	var kept []string
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		kept = append(kept, l)
		if len(kept) == maxExcerptLines {
			break
		}
	}
	return strings.Join(kept, " | ")
}

func (u *Updater) wifiVerifying(ctx context.Context, device DeviceHandle) error {
	const op = "Verifying"
	if err := u.transition(Verifying, op); err != nil {
		return asFailure(Verifying, op, err)
	}
	u.report(92, op, 0, 0)

	if err := sleepCtx(ctx, u.opts.PostWiFiReconnectDelay); err != nil {
		return asFailure(Verifying, op, err)
	}

	sctx, cancel := u.withStateTimeout(ctx, Verifying)
	defer cancel()
	if err := device.Reconnect(sctx, device.Name()); err != nil {
		return asFailure(Verifying, op, err)
	}

	for _, cmd := range []string{scpiLANEnabled1, scpiLANApply, scpiLANSave} {
		if err := device.SendCommand(sctx, cmd); err != nil {
			return asFailure(Verifying, op, err)
		}
	}
	return nil
}
