// Package device defines the radio capability the controller drives.
//
// The package holds no BLE stack of its own. It describes:
//   - the Adapter capability set (scan, connect, discover, write)
//   - the events an Adapter reports back (power, advertisements, link and discovery results)
//   - the adapter power states and the scan filter handed to StartScan
//   - the error taxonomy shared by backends and the controller
//
// Concrete backends live in the go-ble and tinygo subpackages.
package device
