/*
Package scheduler turns recurrence rules into live, named schedules that
dispatch events as their occurrences come due.

# Basic Usage

Create a registry with a timer host and a dispatcher, then add schedules by
name:

	loop := scheduler.NewLoop()
	defer loop.Close()

	reg, err := scheduler.New(loop, scheduler.DispatcherFunc(
		func(ctx context.Context, ev scheduler.Event) error {
			log.Printf("%s fired for %s", ev.Name, ev.ScheduledAt)
			return nil
		},
	))
	if err != nil {
		log.Fatal(err)
	}

	reg.AddRRule("standup", "reminder", "FREQ=WEEKLY;BYDAY=MO,WE,FR;BYHOUR=9;BYMINUTE=30")
	reg.AddSchedule("heartbeat", "ping", recurrence.Spec{
		Frequency: recurrence.Minutely,
		Interval:  5,
	})
	reg.Add("cleanup", recurrence.Spec{Frequency: recurrence.Daily, Interval: 1})

A schedule whose spec has no anchor is anchored at the host's current time,
so its first dispatch falls one rule period later. Adding a schedule under a
taken name cancels and replaces the prior one; pass WithStrictNames to get
ErrScheduleExists instead.

# Handles

Every schedule is driven by a Handle, a small state machine with three
states: Armed (a timer is registered for the next occurrence), Exhausted
(the rule ran out), and Cancelled. Occurrence N+1 is armed only after the
dispatch for occurrence N returned, so one schedule never dispatches
concurrently with itself. Dispatcher errors are logged and never stop the
schedule.

	h, _ := reg.AddRRule("daily", "report", "FREQ=DAILY;COUNT=30")
	next, _ := h.NextAt()
	h.Cancel()

Exhausted handles remove themselves from their registry; Cancel and Remove
take effect before any not-yet-started dispatch, even one already due.

# Timer Hosts

The registry arms its timers on a TimerHost. Loop is the production host: a
single goroutine sleeps until the earliest registration is due and runs
callbacks serially. ManualHost is a simulated clock for tests:

	host := scheduler.NewManualHost(start)
	reg, _ := scheduler.New(host, dispatcher)
	reg.AddRRule("tick", "tick", "FREQ=SECONDLY;COUNT=3")

	host.Advance(3 * time.Second) // dispatches all three occurrences

# Stores

Registries keep their live handles in a Store, keyed with a configurable
prefix so one store can be shared with other application state:

	shared := scheduler.NewMemoryStore()
	reg, _ := scheduler.New(loop, dispatcher,
		scheduler.WithStore(shared),
		scheduler.WithKeyPrefix("cron:"),
	)

# Error Handling

The package reports its own failures with typed errors:

	_, err := reg.AddRRule("job", "run", "FREQ=DAILY")
	var schedErr *scheduler.Error
	if errors.As(err, &schedErr) && schedErr.Type == scheduler.ErrScheduleExists {
		// name already taken
	}

Rule validation failures pass through from the recurrence package unchanged,
so a malformed rule surfaces as a *recurrence.ValidationError and the
registry is left untouched.

See examples/scheddemo for a complete program.
*/
package scheduler
