// Copyright 2026 TaskHub Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package supervisor spawns, monitors, and restarts agent child processes
(spec §4.3). A Launcher abstracts process creation the same way the
teacher's deployment.DeploymentProvider abstracts a deploy target,
letting Supervisor's restart/capacity/shutdown policy be tested without
forking real OS processes.

Spawn allocates the next "<type>-agent-<n>" id from a fixed entry-point
table, launches the process, and registers it. A background watcher
per process waits for exit and applies the restart policy: non-zero
exit within the configured restart budget triggers a delayed respawn
preserving the agent id; a clean exit (code 0) never restarts and
resets the budget; exhausting the budget emits restartFailed instead of
respawning. Terminate requests graceful shutdown and escalates to a
hard kill if the process outlives shutdown_timeout. ShutdownAll fans
Terminate out over every live agent concurrently.
*/
package supervisor
