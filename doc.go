// Package modlist reproduces a modded game installation on another machine
// from a compiled plan, without shipping the installed files.
//
// A plan records, for every installed file, how to get it back from the
// archives it was originally unpacked from: copy it out of an archive,
// rebuild it from a near match with a binary patch, write it from data stored
// in the plan, or pack it into a game archive. [Client] is the high-level
// entry point tying together the file index, the matcher and the installer.
//
// # Quick Start
//
// Compile a plan from an installed setup:
//
//	c, err := modlist.NewClient(modlist.WithCacheDir("/var/cache/modlist"))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	res, err := c.Compile(ctx, modlist.CompileConfig{
//	    SourceRoot:    "./mo2",
//	    DownloadsRoot: "./mo2/downloads",
//	    Output:        "./my.modlist",
//	})
//
// Install it elsewhere:
//
//	_, err = c.Install(ctx, "./my.modlist", modlist.DirLayout{
//	    Output:    "./install",
//	    Downloads: "./downloads",
//	})
//
// # Caching
//
// File hashes and built patches are kept across runs with [WithCacheDir], so
// unchanged files are never read twice and identical patches are built once.
// The file index is persisted next to them and reloaded by [Client.Index].
//
// # Lower-level packages
//
// The building blocks are usable on their own: package bsa reads and writes
// game archives, package patch builds and applies binary patches, package
// vfs indexes nested archives by content hash, and package plan holds the
// plan model and file format.
package modlist
