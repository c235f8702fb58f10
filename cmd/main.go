package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"txcache/pkg/engine"
)

func printRootHelp() {
	fmt.Println(`txcache - texture data cache with memory, file and redis backends

Usage:
  txcache <command> [options]

Available Commands:
  up        Start the txcache server
  down      Stop the txcache server
  init      Write a default config file
  inspect   List the records of a cache file
  help      Show help for a command

Run 'txcache help <command>' for details on a specific command.`)
}

func printUpHelp() {
	fmt.Println(`Usage:
  txcache up [--config <path>]

Options:
  --config   Path to txcache config YAML file (default: ./txcache.config.yaml)`)
}

func printDownHelp() {
	fmt.Println(`Usage:
  txcache down [--config <path>]

Options:
  --config   Path to txcache config YAML file (default: ./txcache.config.yaml)`)
}

func printInitHelp() {
	fmt.Println(`Usage:
  txcache init [--config <path>] [--force]

Options:
  --config   Where to write the config file (default: ./txcache.config.yaml)
  --force    Overwrite an existing file`)
}

func printInspectHelp() {
	fmt.Println(`Usage:
  txcache inspect <file>

Lists every record of a *_MEMORYCACHE.htc or *_STORAGE.htc file.`)
}

// configPathFlag parses --config for a command and returns it as an absolute path.
func configPathFlag(name string, args []string) string {
	cmd := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := cmd.String("config", "txcache.config.yaml", "Path to configuration YAML file")

	if err := cmd.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	absPath, err := filepath.Abs(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to resolve config path: %v\n", err)
		os.Exit(1)
	}
	return absPath
}

func requireConfig(absPath string) {
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Config file not found: %s\n", absPath)
		os.Exit(1)
	}
}

func main() {
	if len(os.Args) < 2 {
		printRootHelp()
		os.Exit(1)
	}

	switch os.Args[1] {

	case "up":
		absPath := configPathFlag("up", os.Args[2:])
		requireConfig(absPath)

		txEngine := engine.InstantiateTxCacheEngine(absPath)
		txEngine.Run()

	case "down":
		absPath := configPathFlag("down", os.Args[2:])
		requireConfig(absPath)

		if err := engine.KillEngine(absPath); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to stop the txcache server at %s: %v\n", absPath, err)
			os.Exit(1)
		}
		fmt.Printf("Shut down txcache server at %s\n", absPath)

	case "init":
		initCmd := flag.NewFlagSet("init", flag.ExitOnError)
		configPath := initCmd.String("config", "txcache.config.yaml", "Path to configuration YAML file")
		force := initCmd.Bool("force", false, "Overwrite an existing config file")
		if err := initCmd.Parse(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
			os.Exit(1)
		}

		if _, err := os.Stat(*configPath); err == nil && !*force {
			fmt.Fprintf(os.Stderr, "Config file already exists: %s (use --force to overwrite)\n", *configPath)
			os.Exit(1)
		}
		if err := engine.InitConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default config to %s\n", *configPath)

	case "inspect":
		if len(os.Args) < 3 {
			printInspectHelp()
			os.Exit(1)
		}
		if err := engine.Inspect(os.Args[2], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to inspect %s: %v\n", os.Args[2], err)
			os.Exit(1)
		}

	case "help":
		if len(os.Args) == 2 {
			printRootHelp()
		} else {
			switch os.Args[2] {
			case "up":
				printUpHelp()
			case "down":
				printDownHelp()
			case "init":
				printInitHelp()
			case "inspect":
				printInspectHelp()
			default:
				fmt.Printf("Unknown help topic: %s\n", os.Args[2])
				printRootHelp()
				os.Exit(1)
			}
		}

	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printRootHelp()
		os.Exit(1)
	}
}
