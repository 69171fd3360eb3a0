// ABOUTME: Build identity of the trainer
// ABOUTME: Reported in the feedback hello, logs and the EDF recording id
package version

import "fmt"

const (
	Version      = "0.3.0"
	Product      = "mitrain"
	Manufacturer = "NeuroBridge Lab"
)

// Banner is the one-line identity printed at startup
func Banner() string {
	return fmt.Sprintf("%s %s (%s)", Product, Version, Manufacturer)
}
