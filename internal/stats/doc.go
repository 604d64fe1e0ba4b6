// Package stats provides named, lockable statistic values shared between the
// main routine and parallel workers.
//
// A Registry is served by one coordinator goroutine; callers in any execution
// context (see package proc) send it requests, so there is no "call me from a
// child only" restriction. Each registered key gets exactly one reentrant Lock
// at registration time. Get and Set take that lock for the duration of the
// call; read-modify-write sequences must hold it explicitly:
//
//	lock, _ := reg.LockFor(ctx, "count")
//	ctx, _ = lock.Lock(ctx)
//	v, _ := reg.Get(ctx, "count")
//	_ = reg.Set(ctx, "count", v.(int)+1)
//	lock.Unlock(ctx)
//
// Sessions own independent registries. A Manager tracks which sessions are
// active and fans statistic writes out to all of them with Broadcast.
package stats
