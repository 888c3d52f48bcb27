// Package tiller is the realtime steering core of an agent runtime: a
// concurrent pipeline that ingests a stream of user directives, parses them
// into typed messages, queues work for a cancellable agent loop driving a
// language-model backend and a tool engine, and streams results back while
// remaining steerable — new input is accepted at any time, including while a
// directive is mid-flight.
//
// The core is built from four subsystems wired together by SteeringSystem:
//
//   - Pipe[T]: the single-producer async queue with Done/Error terminal
//     states used between all pipeline stages.
//   - LineStream + MessageParser: chunked bytes → logical lines → validated
//     UserMessage values, with a plain-text fallback for loose input.
//   - StreamingProcessor + CmdQueue: FIFO command dispatch onto the agent
//     loop, tool engine, or system probes, one command in flight at a time.
//   - AgentLoop: one directive end-to-end — security gate, context
//     compaction, model call with retry and fallback, optional tool call,
//     memory update.
//
// Model backends, tool engines, system probes, and specializations are
// injected via the interfaces in this package. The model, tools, history,
// observer, and delivery subpackages provide the shipped implementations.
package tiller
