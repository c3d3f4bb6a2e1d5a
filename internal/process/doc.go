// Package process supervises the child processes of the demo command.
//
// Process wraps os/exec for one subprocess: output is streamed line by line
// into a logger, Shutdown sends SIGINT and escalates to SIGKILL after a
// timeout, and Kill sends SIGKILL immediately to simulate a crash.
//
// Pool runs several named processes and tracks their state:
//
//	pool := process.NewPool(&process.PoolOptions{
//	    CommandProvider: func(id string) ([]string, error) {
//	        return []string{os.Args[0], "consume", "cam0"}, nil
//	    },
//	    OnStateChange: func(id string, old, new process.State, err error) {
//	        logger.Info("Process state", "id", id, "from", old, "to", new)
//	    },
//	})
//	pool.Start("consumer-1")
//	defer pool.StopAll()
package process
