package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"

	"teamer/config"
	"teamer/datamodel/peer"
	"teamer/datastore/leveldb"
)

func openBook(cfg *config.Config) (peer.AddressBook, error) {
	book, err := leveldb.NewAddressBook(cfg.DataStore.AddressBookPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open address book: %w", err)
	}
	return book, nil
}

func RunPeersAdd(ctx context.Context, cfg *config.Config, address, label string) error {
	addr, err := peer.ParseAddress(address, cfg.Network.Port)
	if err != nil {
		return err
	}

	book, err := openBook(cfg)
	if err != nil {
		return err
	}
	defer book.Close()

	if err := book.Put(&peer.BookEntry{Address: addr, Label: label}); err != nil {
		return fmt.Errorf("failed to store %s: %w", addr, err)
	}

	log.Infof("Added %s to the address book", addr)
	return nil
}

func RunPeersRemove(ctx context.Context, cfg *config.Config, address string) error {
	addr, err := peer.ParseAddress(address, cfg.Network.Port)
	if err != nil {
		return err
	}

	book, err := openBook(cfg)
	if err != nil {
		return err
	}
	defer book.Close()

	if err := book.Delete(addr); err != nil {
		return fmt.Errorf("failed to remove %s: %w", addr, err)
	}

	log.Infof("Removed %s from the address book", addr)
	return nil
}

func RunPeersList(ctx context.Context, cfg *config.Config) error {
	book, err := openBook(cfg)
	if err != nil {
		return err
	}
	defer book.Close()

	entries, err := book.Enumerate()
	if err != nil {
		return fmt.Errorf("failed to enumerate address book: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tLABEL\tADDED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Address, e.Label, e.Added.Local().Format(time.DateTime))
	}
	return w.Flush()
}
