package radio

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

type AdapterInfo struct {
	ID  string
	Bus string
}

var (
	adapterLineRe = regexp.MustCompile(`^(hci\d+):`)
	adapterBusRe  = regexp.MustCompile(`Bus:\s*(USB|UART|PCI|SDIO|Virtual)`)
)

// ListAdapters parses hciconfig output into controller ids. hciconfig is
// present wherever btmgmt is, and unlike the DBus walk it also lists
// controllers BlueZ has not picked up yet.
func ListAdapters() ([]AdapterInfo, error) {
	out, err := exec.Command("hciconfig").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("hciconfig: %w", err)
	}

	var adapters []AdapterInfo
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if m := adapterLineRe.FindStringSubmatch(line); m != nil {
			info := AdapterInfo{ID: m[1], Bus: "Unknown"}
			if bm := adapterBusRe.FindStringSubmatch(line); bm != nil {
				info.Bus = bm[1]
			}
			adapters = append(adapters, info)
			continue
		}
		if len(adapters) > 0 && adapters[len(adapters)-1].Bus == "Unknown" {
			if bm := adapterBusRe.FindStringSubmatch(line); bm != nil {
				adapters[len(adapters)-1].Bus = bm[1]
			}
		}
	}
	return adapters, nil
}

// PickAdapter resolves the configured adapter id, falling back to the
// first controller on the host when none is configured.
func PickAdapter(configured string) (string, error) {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		return configured, nil
	}
	adapters, err := ListAdapters()
	if err != nil {
		return "", fmt.Errorf("no adapter configured and discovery failed: %w", err)
	}
	if len(adapters) == 0 {
		return "", fmt.Errorf("no bluetooth adapters found")
	}
	return adapters[0].ID, nil
}
