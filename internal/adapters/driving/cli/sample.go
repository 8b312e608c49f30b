package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var sampleCmd = &cobra.Command{
	Use:   "sample [dir]",
	Short: "Write sample policy documents",
	Long: `Write a small set of sample insurance policies to a directory so the
pipeline can be tried without real documents:

  auto/auto_policy.txt     POL-AUTO-001
  auto/claims_guide.md     POL-AUTO-001
  home/home_policy.txt     POL-HOME-001

Then index and ask:
  policyqa --docs ./policies reindex
  policyqa --docs ./policies ask "What is my collision deductible?"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSample,
}

func init() {
	sampleCmd.Flags().Bool("force", false, "overwrite existing files")
	rootCmd.AddCommand(sampleCmd)
}

// samplePolicies maps relative paths to file contents.
var samplePolicies = map[string]string{
	"auto/auto_policy.txt": `ACME MUTUAL AUTO POLICY
Policy ID: POL-AUTO-001
Effective Date: January 1, 2024
Coverage Period: 12 months

COVERAGE A: LIABILITY - Bodily Injury: $100,000 per person / $300,000 per accident
Property Damage: $50,000 per accident.

COVERAGE B: COLLISION - Deductible: $500 per accident
Collision coverage pays for damage to your vehicle when it collides with
another vehicle or object, including hit-and-run accidents. You pay the
deductible once per accident.

COVERAGE C: COMPREHENSIVE - Deductible: $250 per incident
Comprehensive coverage pays for theft, vandalism, weather damage and animal
collisions. Glass repair and replacement have no deductible.

COVERAGE D: UNINSURED MOTORIST
Bodily Injury: $100,000 per person / $300,000 per accident.

RENTAL REIMBURSEMENT
A rental car is covered up to $30 per day for a maximum of 30 days while
your vehicle is repaired after a covered loss.

EXCLUSIONS
This policy does not cover intentional damage, racing or speed contests,
commercial use of a personal vehicle, driving under the influence, or normal
wear and tear.

PREMIUM: $1,245 annually
`,
	"auto/claims_guide.md": `---
title: Filing an Auto Claim
---
# Filing an Auto Claim

Policy ID: POL-AUTO-001

## Immediate Actions

- Make sure everyone is safe and call 911 if anyone is injured.
- Do **not** admit fault at the scene.
- Exchange names, insurers and policy numbers with the other driver.

## Reporting

Report the claim within 24 hours by phone at 1-800-555-0100 or in the mobile app.
An adjuster is assigned within 24 to 48 hours and inspects the vehicle within
3 to 5 business days.

## Payment

You pay your deductible directly to the repair shop and the insurer pays the
rest. If the other driver is at fault the deductible may be waived.
`,
	"home/home_policy.txt": `ACME MUTUAL HOMEOWNERS POLICY
Policy ID: POL-HOME-001
Effective Date: March 1, 2024

SECTION I: DWELLING COVERAGE - Limit: $350,000
Dwelling coverage protects the structure of your home, including the roof,
walls and attached garage, against fire, lightning, windstorm and hail.

SECTION II: PERSONAL PROPERTY - Limit: $175,000
Personal property is covered at actual cash value. Jewelry is limited to
$1,500 per item unless scheduled separately.

SECTION III: LIABILITY - Limit: $300,000 per occurrence
Covers injury to guests on your property and damage you cause to others.

DEDUCTIBLES
All perils deductible: $1,000 per claim. Wind and hail deductible: 2% of the
dwelling limit.

EXCLUSIONS
Flood and surface water damage are not covered. Earthquake, mold and damage
from lack of maintenance are also excluded.

ADDITIONAL LIVING EXPENSES
If a covered loss makes your home uninhabitable, additional living expenses
are paid for up to 12 months.
`,
}

func runSample(cmd *cobra.Command, args []string) error {
	dir := "policies"
	if len(args) > 0 {
		dir = args[0]
	}
	force, _ := cmd.Flags().GetBool("force")

	written, err := writeSamplePolicies(dir, force)
	if err != nil {
		return err
	}

	for _, path := range written {
		cmd.Printf("Wrote %s\n", path)
	}
	cmd.Printf("\nIndex them with: policyqa --docs %s reindex\n", resolveDir(dir))
	return nil
}

// writeSamplePolicies writes samplePolicies under dir in a stable order.
// Existing files are left alone unless force is set.
func writeSamplePolicies(dir string, force bool) ([]string, error) {
	paths := []string{"auto/auto_policy.txt", "auto/claims_guide.md", "home/home_policy.txt"}

	if !force {
		for _, rel := range paths {
			path := filepath.Join(dir, filepath.FromSlash(rel))
			if _, err := os.Stat(path); err == nil {
				return nil, fmt.Errorf("%s already exists, use --force to overwrite", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	written := make([]string, 0, len(paths))
	for _, rel := range paths {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(samplePolicies[rel]), 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
