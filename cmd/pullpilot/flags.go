package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

// GlobalFlags are shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

type OutputFlags struct {
	JSON bool
}

type UpdateAllFlags struct {
	Yes   bool // skip the confirmation prompt
	Watch bool // follow progress until the run ends
}

type ScheduleFlags struct {
	Target     string
	Frequency  string
	WeekDay    string
	DayOfMonth int
	Hour       int
	Minute     int
}

type DeleteFlags struct {
	Yes bool
}

type LoginFlags struct {
	Username      string
	PasswordStdin bool
}

type DashboardFlags struct {
	Listen string
}

type GatewaySimFlags struct {
	Listen   string
	Username string
	Password string
	Step     time.Duration
}
