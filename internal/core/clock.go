package core

import "k8s.io/utils/clock"

// Clock is the time source a Controller schedules its missing_timer and
// build_wait_timer against. Production controllers use clock.RealClock{};
// tests use clock/testing.FakeClock for deterministic, step-driven timers.
type Clock = clock.Clock

// Timer is the handle returned by Clock.AfterFunc, matching k8s.io/utils/clock.
type Timer = clock.Timer

// RealClock is the production Clock implementation.
var RealClock = clock.RealClock{}
