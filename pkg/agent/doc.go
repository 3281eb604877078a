// Package agent keeps the device's firmware current. Each cycle fetches the
// published manifest, compares the offered version with the one recorded on
// the device and, when the offer is newer, installs the image and records its
// version. Run repeats cycles on a fixed interval for the life of the process.
//
// A cycle never fails the Agent: every failure, including a panic inside a
// collaborator, is reduced to a firmware.Outcome and the next cycle proceeds
// as if nothing happened.
package agent
