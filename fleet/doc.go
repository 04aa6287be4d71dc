// Package fleet is the programmatic API of lunge-fleet: it spreads one load
// test over a fleet of load-generating nodes and runs it.
//
// # Quick Start
//
// For simple use cases, use the high-level Run function with a fleet file:
//
//	result, err := fleet.Run(context.Background(), "fleet.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, n := range result.Report.Nodes {
//	    fmt.Printf("%s: %d VUs in %s\n", n.Node, n.Options.Behavior.Load.VirtualUsers, n.Duration)
//	}
//
// # Building a fleet in code
//
// Nodes can be remote agents (started with "lunge-fleet agent") or run in
// process:
//
//	coordinator := fleet.NewCoordinator([]fleet.Node{
//	    fleet.NewHTTPNode("vu-1", "http://10.0.0.11:8089", 0),
//	    fleet.NewHTTPNode("vu-2", "http://10.0.0.12:8089", 0),
//	    fleet.NewLocalNode("local"),
//	})
//
//	report, err := coordinator.Dispatch(ctx, fleet.DispatchOptions{
//	    Target: fleet.Target{URL: "https://shop.example.com"},
//	    Behavior: fleet.Behavior{
//	        Load: fleet.LoadProfile{
//	            VirtualUsers:   90,
//	            Ramp:           3 * time.Minute,
//	            Flat:           10 * time.Minute,
//	            MaxOverallRate: fleet.TemporalRate{Change: 300, Per: time.Second},
//	        },
//	    },
//	})
//
// # Planning
//
// Plan shows the share of each node without contacting any of them:
//
//	plans, err := fleet.Plan(options, 3)
//
// Every node gets floor(VirtualUsers/N) virtual users and floor(rate/N) of
// the rate. Node i holds for i*Ramp/N longer and runs flat for (N-1-i)*Ramp/N
// longer, so the fleet ramps up one node at a time and every node ends
// together.
package fleet
