// Package agentdial is a client library for invoking operations on remote
// agent services over their native protocols.
//
// Agents come in two flavors: conversational agents speaking the A2A
// (Agent-to-Agent) task protocol, and tool servers speaking MCP (Model
// Context Protocol). agentdial hides the difference behind a single
// result-oriented API: configure an agent, invoke an operation, get a
// TaskResult back.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/kadirpekel/agentdial/cmd/agentdial@latest
//
// Register an agent and call it:
//
//	agentdial agents add sales https://sales.example.com --protocol a2a
//	agentdial call sales get_products --param brief="running shoes"
//
// # Using as Go Library
//
//	import (
//	    "github.com/kadirpekel/agentdial/pkg/client"
//	    "github.com/kadirpekel/agentdial/pkg/config"
//	)
//
//	agent := config.Agent{ID: "sales", URL: "https://sales.example.com", Protocol: config.ProtocolA2A}
//	agent.SetDefaults()
//
//	cl, err := client.New(agent)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cl.Close()
//
//	res := cl.Invoke(ctx, "get_products", map[string]any{"brief": "running shoes"})
//	if res.IsSuccess() {
//	    fmt.Println(res.Data())
//	}
//
// # Key Features
//
//   - Protocol negotiation: endpoint and transport candidates are probed
//     automatically until one answers
//   - Task lifecycle: polling, input-required suspension, resume, cancel
//   - Classified errors: every failure carries a stable code that decides
//     retry behavior
//   - Fan-out: invoke the same operation across a whole roster of agents
//     concurrently with Group
//
// See the pkg/client, pkg/config and pkg/result packages for the core API.
package agentdial
