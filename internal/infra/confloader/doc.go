// Package confloader loads layered configuration with koanf.
//
// Sources, lowest priority first:
//
//  1. Defaults passed with WithDefaults
//  2. A YAML file
//  3. Environment variables
//
// Environment names drop the prefix, lower-case the rest and use a double
// underscore as the section separator, so single underscores survive inside
// key names:
//
//	RXCKPT_ENGINE__CHECKPOINT_PARALLELISM=4  ->  engine.checkpoint_parallelism
//
// After a load, Origin names the layer each key came from and Changed lists
// the keys that differ from the previous load.
//
// Watcher reports changes of a configuration file through fsnotify, coalescing
// the bursts of events editors produce for one save.
package confloader
