// Package agentsdk is the base runtime an agent process binary embeds:
// bus registration, heartbeat emission, assignment dispatch, and error
// categorization/recovery. A concrete agent (planning, worker, qc,
// review) implements Hooks and calls Run; everything else — lifecycle
// transitions, retries, the heartbeat self-check — is handled here.
package agentsdk
