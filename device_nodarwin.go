//go:build !darwin

package main

func findDarwinDeviceForMount(string) (string, string) { return "", "" }

func listMountedDarwin() []mountedVol { return nil }
