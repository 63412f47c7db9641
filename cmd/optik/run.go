package main

import (
	gocontext "context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/trailofbits/optik/corpus"
	"github.com/trailofbits/optik/evm"
	"github.com/trailofbits/optik/hybrid"
	"github.com/trailofbits/optik/state"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/maps"
)

var RunCmd = cli.Command{
	Action:    doRun,
	Name:      "run",
	Usage:     "Augment a fuzzing corpus through symbolic exploration",
	ArgsUsage: "<engine>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "code",
			Usage:    "file holding the hex encoded bytecode of the target contract",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "corpus",
			Usage:    "corpus directory shared with the fuzzer",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "address",
			Usage: "address the target contract is deployed at",
			Value: "0x00000000000000000000000000000000000a11ce",
		},
		&cli.IntFlag{
			Name:  "max-iterations",
			Usage: "aborts after the given number of loop iterations, 0 for no bound",
		},
		&cli.DurationFlag{
			Name:  "budget",
			Usage: "aborts after the given wall clock time, 0 for no bound",
		},
		&cli.BoolFlag{
			Name:  "continue-on-revert",
			Usage: "replay sequences past reverting transactions",
		},
		&cli.IntFlag{
			Name:  "max-branches",
			Usage: "number of uncovered branches attempted per iteration, 0 for all",
		},
		&cli.IntFlag{
			Name:  "jobs",
			Usage: "number of jobs run simultaneously",
			Value: runtime.NumCPU(),
		},
		&cli.DurationFlag{
			Name:  "solver-timeout",
			Usage: "time limit per constraint solving query",
			Value: 10 * time.Second,
		},
		&cli.Uint64Flag{
			Name:  "seed",
			Usage: "seed for the random number generator",
		},
		&cli.StringFlag{
			Name:  "coverage-out",
			Usage: "write the final coverage report to the given file",
		},
		&cli.StringFlag{
			Name:  "cpuprofile",
			Usage: "store CPU profile in the provided filename",
		},
	},
}

func doRun(context *cli.Context) error {
	if cpuprofileFilename := context.String("cpuprofile"); cpuprofileFilename != "" {
		f, err := os.Create(cpuprofileFilename)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	var engineIdentifier string
	if context.Args().Len() >= 1 {
		engineIdentifier = context.Args().Get(0)
	}
	if evm.GetEngineFactory(engineIdentifier) == nil {
		return fmt.Errorf("invalid engine identifier, use one of: %v",
			maps.Keys(evm.GetAllRegisteredEngines()))
	}
	factory := func(seed uint64) (evm.Engine, error) {
		return evm.NewEngine(engineIdentifier, seed)
	}

	code, err := loadCode(context.String("code"))
	if err != nil {
		return err
	}
	var address evm.Address
	if err := address.UnmarshalText([]byte(context.String("address"))); err != nil {
		return fmt.Errorf("invalid contract address: %w", err)
	}

	genesis := state.NewWorld()
	genesis.CreateContract(address, code)

	store, err := corpus.OpenStore(context.String("corpus"))
	if err != nil {
		return err
	}
	for _, skipped := range store.Skipped() {
		fmt.Printf("warning: %v\n", skipped)
	}
	fmt.Printf("loaded %d corpus sequences\n", store.Size())

	session, err := hybrid.NewSession(factory, genesis, store, hybrid.Config{
		MaxIterations:           context.Int("max-iterations"),
		Budget:                  context.Duration("budget"),
		ContinueOnRevert:        context.Bool("continue-on-revert"),
		MaxBranchesPerIteration: context.Int("max-branches"),
		Jobs:                    context.Int("jobs"),
		SolverTimeout:           context.Duration("solver-timeout"),
		Seed:                    context.Uint64("seed"),
		Progress:                os.Stdout,
	})
	if err != nil {
		return err
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		<-interrupts
		fmt.Println("received interrupt, finishing current work items")
		session.Stop()
	}()

	result, err := session.Run(gocontext.Background())
	if err != nil {
		return err
	}

	for _, skipped := range session.Skipped() {
		fmt.Printf("warning: skipped %v\n", skipped)
	}
	instructions, branches := session.Coverage().Size()
	fmt.Printf("session %v after %d iterations\n", result, session.Iterations())
	fmt.Printf("solved %d new input sequences, corpus now holds %d\n",
		session.Solved(), session.Corpus().Size())
	fmt.Printf("covered %d instructions and %d branch directions\n",
		instructions, branches)

	if filename := context.String("coverage-out"); filename != "" {
		if err := writeCoverage(filename, session); err != nil {
			return err
		}
	}
	return nil
}

func loadCode(filename string) (evm.Code, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read bytecode: %w", err)
	}
	code, err := hexutil.Decode(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("could not parse bytecode: %w", err)
	}
	return code, nil
}

func writeCoverage(filename string, session *hybrid.Session) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create coverage report: %w", err)
	}
	defer f.Close()
	return session.Coverage().Export(f)
}
