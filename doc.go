// Package fapctl controls the fapolicyd service and runs profiling targets
// while it is stopped.
//
// A Controller owns the daemon mode. Only in ModeOnline are Start and Stop
// passed to a ServiceHandle, normally a ClientSystemd; ModeDisabled and
// ModeProfiling leave the service alone:
//
//	ctrl := fapctl.NewController(fapctl.NewClientSystemd("fapolicyd"),
//	    fapctl.WithMode(fapctl.ModeOnline),
//	)
//	fmt.Println(ctrl.StatusOnline(ctx))
//
// # Profiling sessions
//
// A Registry runs any number of target commands concurrently. The first
// session moves the controller into profiling and stops the service once;
// stopping the last one restores the service:
//
//	reg := fapctl.NewRegistry(ctrl, fapctl.WithTargetLogDir("/var/tmp"))
//	key, err := reg.StartSession(ctx, fapctl.ProfilingConfig{
//	    Command: "/usr/bin/ls",
//	    Args:    []string{"-ltr", "/tmp"},
//	    User:    "nobody",
//	}, "")
//	...
//	err = reg.StopSession(ctx, "") // all sessions
//
// Each Session resolves its user and working directory and opens its output
// files before anything is spawned. A failure at any of those steps leaves the
// session Queued, with the cause in Session.Err.
//
// # Watching
//
// Watch polls the service in the background and reports every status change:
//
//	wc, err := fapctl.Watch(ctx, client, func(s fapctl.ServiceStatus) {
//	    fmt.Println(s)
//	})
//	...
//	wc.Kill()
//	<-wc.Done()
package fapctl
